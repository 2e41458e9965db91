package ingest_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/ingest"
	"github.com/rezonia/vat-compliance/internal/model"
)

var now = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

const header = "id,company_id,number,date,net_amount,vat_rate,vat_amount,supplier_country,customer_country,customer_vat_id,customer_type,product_type,description\n"

func TestReadCSV_Valid(t *testing.T) {
	input := header +
		"INV-1,ACME,2026-001,2026-03-01,1000,21,190,DE,de,,consumer,goods,Office chairs\n" +
		"INV-2,ACME,2026-002,,250.50,19%,47.60,DE,FR,fr 123 456 789 01,Business,services,\n"

	res, err := ingest.ReadCSV(strings.NewReader(input), "UP-1", now)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Rows)
	require.Len(t, res.Invoices, 2)

	first := res.Invoices[0]
	assert.Equal(t, "INV-1", first.ID)
	assert.Equal(t, "UP-1", first.UploadID)
	assert.Equal(t, "ACME", first.CompanyID)
	assert.Equal(t, "DE", first.CustomerCountry)
	assert.True(t, first.NetAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, first.VATRate.Equal(decimal.NewFromInt(21)))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, model.InvoiceStatusPending, first.Status)
	assert.Equal(t, now, first.CreatedAt)

	second := res.Invoices[1]
	assert.False(t, second.HasDate())
	assert.Equal(t, "FR12345678901", second.CustomerVATID)
	assert.Equal(t, model.CustomerBusiness, second.CustomerType)
	assert.Equal(t, model.ProductServices, second.ProductType)
	assert.True(t, second.VATRate.Equal(decimal.NewFromInt(19)))
}

func TestReadCSV_RowErrors(t *testing.T) {
	tests := []struct {
		name  string
		row   string
		field string
	}{
		{"missing id", ",ACME,,2026-03-01,100,19,19,DE,DE,,consumer,goods,", "id"},
		{"bad amount", "X,ACME,,2026-03-01,abc,19,19,DE,DE,,consumer,goods,", "net_amount"},
		{"negative amount", "X,ACME,,2026-03-01,-5,19,19,DE,DE,,consumer,goods,", "net_amount"},
		{"rate above 100", "X,ACME,,2026-03-01,100,190,19,DE,DE,,consumer,goods,", "vat_rate"},
		{"bad date", "X,ACME,,01.03.2026,100,19,19,DE,DE,,consumer,goods,", "date"},
		{"bad country", "X,ACME,,2026-03-01,100,19,19,DE,XX,,consumer,goods,", "customer_country"},
		{"bad customer type", "X,ACME,,2026-03-01,100,19,19,DE,DE,,retail,goods,", "customer_type"},
		{"bad product type", "X,ACME,,2026-03-01,100,19,19,DE,DE,,consumer,food,", "product_type"},
		{"bad vat id", "X,ACME,,2026-03-01,100,19,19,DE,FR,FR-12,business,goods,", "customer_vat_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ingest.ReadCSV(strings.NewReader(header+tt.row+"\n"), "UP-1", now)
			require.NoError(t, err)
			assert.Empty(t, res.Invoices)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, 2, res.Errors[0].Row)
			assert.Equal(t, tt.field, res.Errors[0].Field)
			assert.NotEmpty(t, res.Errors[0].Message)
		})
	}
}

func TestReadCSV_PartialUpload(t *testing.T) {
	input := header +
		"INV-1,ACME,,2026-03-01,100,19,19,DE,DE,,consumer,goods,\n" +
		"\n" +
		"INV-2,ACME,,2026-03-01,oops,19,19,DE,DE,,consumer,goods,\n" +
		"INV-3,ACME,,2026-03-02,200,7,14,DE,DE,,consumer,goods,Books\n"

	res, err := ingest.ReadCSV(strings.NewReader(input), "UP-1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	require.Len(t, res.Invoices, 2)
	assert.Equal(t, "INV-1", res.Invoices[0].ID)
	assert.Equal(t, "INV-3", res.Invoices[1].ID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 4, res.Errors[0].Row)
}

func TestReadCSV_ColumnOrderAndCase(t *testing.T) {
	input := "Product_Type,VAT_Amount,VAT_Rate,Net_Amount,Customer_Type,Customer_Country,Supplier_Country,Company_ID,ID\n" +
		"digital,2.00,20,10,consumer,GB,GB,ACME,INV-9\n"

	res, err := ingest.ReadCSV(strings.NewReader(input), "UP-2", now)
	require.NoError(t, err)
	require.Len(t, res.Invoices, 1)
	assert.Equal(t, model.ProductDigital, res.Invoices[0].ProductType)
	assert.False(t, res.Invoices[0].HasDate())
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ingest.ReadCSV(strings.NewReader("id,company_id\nINV-1,ACME\n"), "UP-1", now)
	var ve *model.InvoiceValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "net_amount", ve.Field)
	assert.Equal(t, "validation", model.Kind(err))
}

func TestReadCSV_EmptyFile(t *testing.T) {
	_, err := ingest.ReadCSV(strings.NewReader(""), "UP-1", now)
	var ve *model.InvoiceValidationError
	require.ErrorAs(t, err, &ve)
}
