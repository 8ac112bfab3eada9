package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Ошибки арифметики долей и коллатерала
var (
	ErrNegativeAmount = errors.New("amount cannot be negative")
	ErrZeroAmount     = errors.New("amount must be positive")
	ErrInsufficient   = errors.New("insufficient balance")
	ErrDivisionByZero = errors.New("division by zero")
)

// CheckedSub вычитает b из a с контролем underflow
// Возвращает ErrInsufficient вместо отрицательного результата -
// балансы и тоталы никогда не должны уходить в минус
func CheckedSub(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	res := a.Sub(b)
	if res.IsNegative() {
		return decimal.Zero, ErrInsufficient
	}
	return res, nil
}

// CheckedAdd складывает два неотрицательных значения
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	if a.IsNegative() || b.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return a.Add(b), nil
}

// SafeDiv делит a на b с контролем деления на ноль
func SafeDiv(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.Div(b), nil
}
