package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fundpool/internal/models"
	"fundpool/internal/repository"
	"fundpool/pkg/utils"
)

// Проверка согласованности хранилищ.
//
// Вызывается при старте сервиса, доступна как диагностический endpoint и
// используется тестами. Проверяет произвольное сохраненное состояние, а не
// только свежесозданное: после сбоя это единственный способ убедиться, что
// очереди, леджер и зеркала не разошлись.

// maxSanityPage ограничивает страницу обхода очереди за одну итерацию
const maxSanityPage = 500

// ConsistencyReport - результат проверки согласованности
type ConsistencyReport struct {
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

func (r *ConsistencyReport) addf(format string, args ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// CheckConsistency проверяет инварианты по всем хранилищам
//
// Очереди: last_inserted >= last_processed >= 0; все элементы с
// id <= last_processed терминальны; элементы за указателем pending.
// Слот reply: если занят, ожидаемый элемент существует, pending и
// является следующим к обработке в своей очереди.
// Леджер: тоталы неотрицательны, сумма долей держателей равна выпущенным.
// Зеркало позиций: активный коллатерал строго положителен
func (e *Engine) CheckConsistency(tokens []string) (*ConsistencyReport, error) {
	report := &ConsistencyReport{}

	marker, err := e.stores.Queue().ReplyMarker()
	if err != nil {
		return nil, err
	}

	for _, direction := range []string{models.DirIncrease, models.DirDecrease} {
		if err := e.checkQueue(report, direction, marker); err != nil {
			return nil, err
		}
	}

	if marker != nil && marker.Direction != models.DirIncrease && marker.Direction != models.DirDecrease {
		report.addf("reply marker has unknown direction %q", marker.Direction)
	}

	for _, token := range tokens {
		if err := e.checkLedger(report, token); err != nil {
			return nil, err
		}
	}

	if err := e.checkMirror(report); err != nil {
		return nil, err
	}

	report.OK = len(report.Problems) == 0
	if !report.OK {
		ConsistencyFailures.Add(float64(len(report.Problems)))
		e.logger.Error("consistency check failed",
			utils.Int("problems", len(report.Problems)),
			utils.String("first", report.Problems[0]))
	}

	return report, nil
}

func (e *Engine) checkQueue(report *ConsistencyReport, direction string, marker *models.ReplyMarker) error {
	inserted, processed, err := e.stores.Queue().Pointers(direction)
	if err != nil {
		return err
	}

	if processed < 0 || inserted < 0 {
		report.addf("%s: negative queue pointers (inserted=%d processed=%d)", direction, inserted, processed)
	}
	if inserted < processed {
		report.addf("%s: last_inserted %d behind last_processed %d", direction, inserted, processed)
	}

	// разрешенный префикс: все элементы до указателя терминальны
	var after int64
	for after < processed {
		items, err := e.stores.Queue().ListAfter(direction, after, maxSanityPage)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			report.addf("%s: items %d..%d missing from storage", direction, after+1, processed)
			break
		}
		for _, item := range items {
			if item.ID > processed {
				break
			}
			if !models.IsTerminal(item.Status) {
				report.addf("%s: item %d within resolved prefix has status %q", direction, item.ID, item.Status)
			}
			if item.ID != after+1 {
				report.addf("%s: id gap, expected %d got %d", direction, after+1, item.ID)
			}
			after = item.ID
		}
		if items[len(items)-1].ID >= processed {
			break
		}
	}

	// хвост за указателем остается pending
	tail, err := e.stores.Queue().ListAfter(direction, processed, maxSanityPage)
	if err != nil {
		return err
	}
	for _, item := range tail {
		if models.IsTerminal(item.Status) {
			report.addf("%s: unprocessed item %d already terminal (%s)", direction, item.ID, item.Status)
		}
	}

	if marker != nil && marker.Direction == direction {
		item, err := e.stores.Queue().GetByID(direction, marker.ItemID)
		if err != nil {
			if errors.Is(err, repository.ErrItemNotFound) {
				report.addf("%s: reply marker points to missing item %d", direction, marker.ItemID)
				return nil
			}
			return err
		}
		if item.Status != models.StatusPending {
			report.addf("%s: awaited item %d has status %q", direction, marker.ItemID, item.Status)
		}
		if marker.ItemID != processed+1 {
			report.addf("%s: awaited item %d is not next to process (%d)", direction, marker.ItemID, processed+1)
		}
	}

	return nil
}

func (e *Engine) checkLedger(report *ConsistencyReport, token string) error {
	totals, err := e.stores.Shares().GetTotals(token)
	if err != nil {
		return err
	}

	if totals.Collateral.IsNegative() {
		report.addf("%s: negative pool collateral %s", token, totals.Collateral)
	}
	if totals.Shares.IsNegative() {
		report.addf("%s: negative issued shares %s", token, totals.Shares)
	}

	holders, err := e.stores.Shares().ListHolders(token, 0)
	if err != nil {
		return err
	}

	sum := decimal.Zero
	for _, h := range holders {
		if !h.Shares.IsPositive() {
			report.addf("%s: stored zero/negative balance for wallet %s", token, h.Wallet)
			continue
		}
		sum, err = models.CheckedAdd(sum, h.Shares)
		if err != nil {
			return err
		}
	}

	if !sum.Equal(totals.Shares) {
		report.addf("%s: holder shares %s do not sum to issued %s", token, sum, totals.Shares)
	}

	return nil
}

func (e *Engine) checkMirror(report *ConsistencyReport) error {
	positions, err := e.stores.Positions().List()
	if err != nil {
		return err
	}
	for _, p := range positions {
		if !p.ActiveCollateral.IsPositive() {
			report.addf("position %s/%s: non-positive active collateral %s", p.MarketID, p.ID, p.ActiveCollateral)
		}
	}
	return nil
}
