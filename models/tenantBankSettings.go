package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/qrpayment"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm/clause"
)

// TenantBankSettings is the account printed on payment instructions.
type TenantBankSettings struct {
	TenantId       string    `gorm:"size:64;primaryKey" json:"tenant_id"`
	Iban           string    `gorm:"size:34" json:"iban"`
	Bic            string    `gorm:"size:11" json:"bic"`
	AccountNumber  string    `gorm:"size:30" json:"account_number"`
	AccountCountry string    `gorm:"size:2" json:"account_country"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTenantBankSettings struct {
	Iban           string `json:"iban" validate:"omitempty,max=34"`
	Bic            string `json:"bic" validate:"omitempty,min=8,max=11"`
	AccountNumber  string `json:"account_number" validate:"omitempty,max=30"`
	AccountCountry string `json:"account_country" validate:"omitempty,len=2"`
}

func (input *NewTenantBankSettings) validate() error {
	input.Iban = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(input.Iban), " ", ""))
	input.Bic = strings.ToUpper(strings.TrimSpace(input.Bic))
	input.AccountNumber = strings.TrimSpace(input.AccountNumber)
	input.AccountCountry = strings.ToUpper(strings.TrimSpace(input.AccountCountry))
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Iban != "" {
		if err := qrpayment.ValidateIBAN(input.Iban); err != nil {
			return utils.NewValidationError(err.Error())
		}
	}
	if input.AccountNumber != "" {
		if input.AccountCountry == "" {
			input.AccountCountry = "CZ"
		}
		if _, err := qrpayment.LocalAccountToIBAN(input.AccountCountry, input.AccountNumber); err != nil {
			return utils.NewValidationError(err.Error())
		}
	}
	return nil
}

func UpsertTenantBankSettings(ctx context.Context, input *NewTenantBankSettings) (*TenantBankSettings, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	settings := TenantBankSettings{
		TenantId:       tenantId,
		Iban:           input.Iban,
		Bic:            input.Bic,
		AccountNumber:  input.AccountNumber,
		AccountCountry: input.AccountCountry,
	}
	err = dbFrom(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"iban", "bic", "account_number", "account_country", "updated_at"}),
	}).Create(&settings).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[TenantBankSettings](tenantId, tenantId); err != nil {
		config.LogError(config.GetLogger(), "tenantBankSettings.go", "UpsertTenantBankSettings", "RemoveRedisItem", tenantId, err)
	}
	return &settings, nil
}

// GetTenantBankSettings returns ErrBankAccountNotConfigured when the tenant has no row.
func GetTenantBankSettings(ctx context.Context) (*TenantBankSettings, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := utils.CachedModel(tenantId, tenantId, func() (*TenantBankSettings, error) {
		var s TenantBankSettings
		if err := dbFrom(ctx).Where("tenant_id = ?", tenantId).Limit(1).Find(&s).Error; err != nil {
			return nil, err
		}
		if s.TenantId == "" {
			return nil, utils.ErrBankAccountNotConfigured
		}
		return &s, nil
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}
