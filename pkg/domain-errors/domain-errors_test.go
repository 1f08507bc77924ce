package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// Justification: every component in the platform branches on these codes
// (conflict retries, insufficient-stock outcomes). The invariants "wrapped
// domain errors preserve original code" and "errors.Is matches by code"
// must hold.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "order not found"}
		s.Equal("order not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeInsufficientStock}
		s.Equal("insufficient_stock", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	s.Run("returns wrapped error", func() {
		inner := errors.New("kv transaction failed")
		err := &Error{Code: CodeInternal, Message: "store error", Err: inner}
		s.Equal(inner, errors.Unwrap(err))
	})

	s.Run("returns nil when no wrapped error", func() {
		err := &Error{Code: CodeNotFound}
		s.Nil(errors.Unwrap(err))
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeConflict, Message: "stream version moved"}
		err2 := &Error{Code: CodeConflict, Message: "view document changed"}
		s.True(errors.Is(err1, err2))
	})

	s.Run("does not match different codes", func() {
		s.False(errors.Is(New(CodeConflict, "x"), New(CodeTimeout, "x")))
	})
}

func (s *DomainErrorsSuite) TestWrapPreservesCode() {
	inner := New(CodeInsufficientStock, "short 3 units")
	wrapped := Wrap(inner, CodeInternal, "allocation failed")

	s.True(HasCode(wrapped, CodeInsufficientStock))
	s.False(HasCode(wrapped, CodeInternal))
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.Run("plain errors never match", func() {
		s.False(HasCode(errors.New("boom"), CodeInternal))
	})

	s.Run("nil error never matches", func() {
		s.False(HasCode(nil, CodeConflict))
	})
}
