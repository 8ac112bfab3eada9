package engine

import (
	"errors"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/repository"
)

// Леджер долей: стоимость доли = NAV / выпущенные доли.
//
// NAV токена = незадействованный коллатерал + сумма (активный коллатерал +
// нереализованный PnL) по всем сверенным позициям площадок этого токена.
// Settlement считает NAV вживую на момент исполнения (защита от
// front-running); кэш share_value обслуживает статусные запросы и
// обновляется работой refresh_share_value.

// navTx считает NAV токена по тоталам и зеркалу позиций
func (e *Engine) navTx(tx Stores, token string) (nav, shares decimal.Decimal, err error) {
	totals, err := tx.Shares().GetTotals(token)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	nav = totals.Collateral

	markets, err := tx.Markets().List()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	for _, m := range markets {
		if m.Token != token {
			continue
		}
		positions, err := tx.Positions().ListByMarket(m.ID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		for _, p := range positions {
			nav = nav.Add(p.ActiveCollateral).Add(p.PnlCollateral)
		}
	}

	return nav, totals.Shares, nil
}

// sharePriceTx возвращает стоимость одной доли на текущий момент
// Пустой пул (shares == 0) оценивается 1:1
func (e *Engine) sharePriceTx(tx Stores, token string) (decimal.Decimal, error) {
	nav, shares, err := e.navTx(tx, token)
	if err != nil {
		return decimal.Zero, err
	}

	if shares.IsZero() {
		return decimal.NewFromInt(1), nil
	}

	return models.SafeDiv(nav, shares)
}

// CurrentSharePrice возвращает кэшированную стоимость доли
// Отсутствующий кэш означает пустой пул: цена 1
func (e *Engine) CurrentSharePrice(token string) (*models.LpTokenValue, error) {
	return e.stores.Shares().GetShareValue(token)
}

// Balance возвращает доли кошелька и их стоимость по кэшу share_value
func (e *Engine) Balance(wallet, token string) (*models.Balance, error) {
	bal, err := e.stores.Shares().GetBalance(wallet, token)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return &models.Balance{
				Wallet:     wallet,
				Token:      token,
				Shares:     decimal.Zero,
				Collateral: decimal.Zero,
			}, nil
		}
		return nil, err
	}

	value, err := e.stores.Shares().GetShareValue(token)
	if err != nil {
		return nil, err
	}

	return &models.Balance{
		Wallet:     wallet,
		Token:      token,
		Shares:     bal.Shares,
		Collateral: bal.Shares.Mul(value.Value),
	}, nil
}

// Totals возвращает агрегаты пула по токену
func (e *Engine) Totals(token string) (*models.Totals, error) {
	return e.stores.Shares().GetTotals(token)
}

// refreshShareValue пересчитывает и кэширует стоимость доли токена
func (e *Engine) refreshShareValue(token string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := e.stores.Atomic(func(tx Stores) error {
		p, err := e.sharePriceTx(tx, token)
		if err != nil {
			return err
		}
		price = p
		return tx.Shares().SetShareValue(token, p)
	})
	if err != nil {
		return decimal.Zero, err
	}

	f, _ := price.Float64()
	SharePrice.WithLabelValues(token).Set(f)

	if e.hub != nil {
		e.hub.BroadcastNavUpdate(token, price)
	}
	return price, nil
}
