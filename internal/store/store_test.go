package store

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/nowail/bookwatch/internal/errs"
	"github.com/nowail/bookwatch/internal/model"
)

func TestValidateBookRejectsNonPositivePrice(t *testing.T) {
	b := model.Book{PriceIncludingTax: 0, NumberOfReviews: 1}
	err := validateBook(b)
	assert.ErrorIs(t, err, errs.ErrInvariant)
}

func TestValidateBookRejectsNegativeReviewCount(t *testing.T) {
	b := model.Book{PriceIncludingTax: 100, NumberOfReviews: -1}
	err := validateBook(b)
	assert.ErrorIs(t, err, errs.ErrInvariant)
}

func TestValidateBookAcceptsValidBook(t *testing.T) {
	b := model.Book{PriceIncludingTax: 100, NumberOfReviews: 0}
	assert.NoError(t, validateBook(b))
}

func TestClassifyErrMapsUniqueViolationToErrDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "books_source_url_key"}
	err := classifyErr(pgErr)
	assert.ErrorIs(t, err, errs.ErrDuplicate)
}

func TestClassifyErrMapsNetErrorToErrConnectionLost(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	err := classifyErr(netErr)
	assert.ErrorIs(t, err, errs.ErrConnectionLost)
}

func TestClassifyErrPassesThroughUnrelatedErrors(t *testing.T) {
	other := fmt.Errorf("some other failure")
	err := classifyErr(other)
	assert.Equal(t, other, err)
}

func TestClassifyErrNilIsNil(t *testing.T) {
	assert.NoError(t, classifyErr(nil))
}
