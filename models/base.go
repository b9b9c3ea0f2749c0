package models

import (
	"context"
	"errors"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer trace.Tracer = otel.Tracer("billing-engine")

// Now is the clock used by every status derivation. Tests replace it.
var Now = func() time.Time {
	return time.Now().UTC()
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// IsDuplicateKeyErr reports unique-constraint violations from MySQL (1062) or a
// translated gorm error (sqlite and any dialect with TranslateError).
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	// sqlite, used by the test suite
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// calculateDueDate keeps the payment term length (in days) of a source document.
func calculateDueDate(issueDate time.Time, days int) time.Time {
	if days < 0 {
		days = 0
	}
	return dateOnly(issueDate).AddDate(0, 0, days)
}

func termDays(issueDate, dueDate time.Time) int {
	return int(dateOnly(dueDate).Sub(dateOnly(issueDate)).Hours() / 24)
}

func moneyPlaces(currency string) int32 {
	return utils.CurrencyMinorUnits(currency)
}

// storage precision of decimal(20,4) columns
func roundStorage(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(4)
}

func dbFrom(ctx context.Context) *gorm.DB {
	return config.GetDB().WithContext(ctx)
}
