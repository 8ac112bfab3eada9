package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных API
//
// Назначение:
// Проверка корректности идентификаторов до обращения к БД и площадкам.
//
// Функции:
// - ValidateWallet: проверка адреса кошелька
// - ValidateToken: проверка обозначения токена (usdc)
// - NormalizeToken: приведение токена к каноническому виду
// - ValidateMarketID: проверка идентификатора площадки
// - ValidatePositionID: проверка идентификатора позиции

var (
	// Адрес кошелька: bech32-подобная строка без спецсимволов
	walletRe = regexp.MustCompile(`^[a-z0-9]{8,90}$`)

	// Токен: буквы/цифры, опциональный ibc/factory префикс
	tokenRe = regexp.MustCompile(`^[a-zA-Z0-9/._-]{2,128}$`)

	// Идентификаторы площадок и позиций: печатные без пробелов
	idRe = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,128}$`)
)

// ValidateWallet проверяет формат адреса кошелька
func ValidateWallet(wallet string) error {
	if wallet == "" {
		return fmt.Errorf("wallet address is empty")
	}
	if !walletRe.MatchString(strings.ToLower(wallet)) {
		return fmt.Errorf("invalid wallet address format: %s", wallet)
	}
	return nil
}

// ValidateToken проверяет обозначение токена расчётов
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	if !tokenRe.MatchString(token) {
		return fmt.Errorf("invalid token format: %s", token)
	}
	return nil
}

// NormalizeToken приводит токен к нижнему регистру без пробелов
func NormalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// ValidateMarketID проверяет идентификатор торговой площадки
func ValidateMarketID(id string) error {
	if id == "" {
		return fmt.Errorf("market id is empty")
	}
	if !idRe.MatchString(id) {
		return fmt.Errorf("invalid market id format: %s", id)
	}
	return nil
}

// ValidatePositionID проверяет идентификатор позиции
func ValidatePositionID(id string) error {
	if id == "" {
		return fmt.Errorf("position id is empty")
	}
	if !idRe.MatchString(id) {
		return fmt.Errorf("invalid position id format: %s", id)
	}
	return nil
}
