package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
)

type Customer struct {
	ID              string    `gorm:"size:36;primaryKey" json:"id"`
	TenantId        string    `gorm:"size:64;index;not null" json:"tenant_id"`
	Name            string    `gorm:"size:200;not null" json:"name"`
	Address         string    `gorm:"type:text" json:"address"`
	TaxId           string    `gorm:"size:50" json:"tax_id"`
	Email           string    `gorm:"size:100" json:"email"`
	Phone           string    `gorm:"size:20" json:"phone"`
	CountryCode     string    `gorm:"size:2" json:"country_code"`
	PaymentTermDays int       `gorm:"not null;default:14" json:"payment_term_days"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

type NewCustomer struct {
	Name            string `json:"name" validate:"required,max=200"`
	Address         string `json:"address"`
	TaxId           string `json:"tax_id" validate:"max=50"`
	Email           string `json:"email" validate:"omitempty,email"`
	Phone           string `json:"phone"`
	CountryCode     string `json:"country_code" validate:"omitempty,len=2"`
	PaymentTermDays *int   `json:"payment_term_days" validate:"omitempty,gte=0,lte=365"`
}

// validate input for both create & update. (id = "" for create)
func (input *NewCustomer) validate(ctx context.Context, tenantId string, id string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if id != "" {
		if err := utils.ValidateResourceId[Customer](ctx, tenantId, id); err != nil {
			return err
		}
	}
	if input.Email != "" {
		if err := utils.ValidateUnique[Customer](ctx, tenantId, "email", input.Email, id); err != nil {
			return err
		}
	}
	return nil
}

// phone numbers are stored in E.164; the country code of the customer is the parse region
func (input *NewCustomer) normalizedPhone() (string, error) {
	if strings.TrimSpace(input.Phone) == "" {
		return "", nil
	}
	region := strings.ToUpper(input.CountryCode)
	if region == "" {
		region = config.DefaultPhoneRegion()
	}
	phone, err := utils.NormalizePhoneNumber(input.Phone, region)
	if err != nil {
		return "", utils.NewValidationError("invalid phone number: " + err.Error())
	}
	return phone, nil
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, ""); err != nil {
		return nil, err
	}
	phone, err := input.normalizedPhone()
	if err != nil {
		return nil, err
	}

	customer := Customer{
		TenantId:        tenantId,
		Name:            input.Name,
		Address:         input.Address,
		TaxId:           input.TaxId,
		Email:           input.Email,
		Phone:           phone,
		CountryCode:     strings.ToUpper(input.CountryCode),
		PaymentTermDays: 14,
		IsActive:        true,
	}
	if input.PaymentTermDays != nil {
		customer.PaymentTermDays = *input.PaymentTermDays
	}

	if err := dbFrom(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpdateCustomer never touches issued invoices: they carry their own billing snapshot.
func UpdateCustomer(ctx context.Context, id string, input *NewCustomer) (*Customer, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}
	phone, err := input.normalizedPhone()
	if err != nil {
		return nil, err
	}

	customer, err := utils.FetchModel[Customer](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"name":         input.Name,
		"address":      input.Address,
		"tax_id":       input.TaxId,
		"email":        input.Email,
		"phone":        phone,
		"country_code": strings.ToUpper(input.CountryCode),
	}
	if input.PaymentTermDays != nil {
		updates["payment_term_days"] = *input.PaymentTermDays
	}
	if err := dbFrom(ctx).Model(customer).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Customer](tenantId, id); err != nil {
		config.LogError(config.GetLogger(), "customer.go", "UpdateCustomer", "RemoveRedisItem", id, err)
	}
	return utils.FetchModel[Customer](ctx, tenantId, id)
}

func GetCustomer(ctx context.Context, id string) (*Customer, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.CachedModel(tenantId, id, func() (*Customer, error) {
		return utils.FetchModel[Customer](ctx, tenantId, id)
	})
}

// BillingSnapshot freezes the customer's billing identity onto a document.
type BillingSnapshot struct {
	BillingName    string `gorm:"size:200;not null" json:"billing_name"`
	BillingAddress string `gorm:"type:text" json:"billing_address"`
	BillingTaxId   string `gorm:"size:50" json:"billing_tax_id"`
	BillingEmail   string `gorm:"size:100" json:"billing_email"`
	BillingPhone   string `gorm:"size:20" json:"billing_phone"`
}

func (c Customer) Snapshot() BillingSnapshot {
	return BillingSnapshot{
		BillingName:    c.Name,
		BillingAddress: c.Address,
		BillingTaxId:   c.TaxId,
		BillingEmail:   c.Email,
		BillingPhone:   c.Phone,
	}
}
