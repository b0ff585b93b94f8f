package mongo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edupay/billing/gateway"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	"github.com/edupay/billing/types"
)

// ==================== Invoice models ====================

type invoiceModel struct {
	ID         string `bson:"_id"`
	Code       string `bson:"code,omitempty"`
	ExternalID string `bson:"external_id,omitempty"`

	InstitutionID       string `bson:"institution_id"`
	InstitutionDocument string `bson:"institution_document"`
	InstitutionName     string `bson:"institution_name"`

	ReferencePeriod string        `bson:"reference_period"`
	Payer           invoice.Payer `bson:"payer"`

	DueDate          time.Time `bson:"due_date"`
	EffectiveDueDate time.Time `bson:"effective_due_date"`

	Plan      string           `bson:"plan"`
	Items     []lineItemModel  `bson:"items"`
	Fine      *finePolicyModel `bson:"fine,omitempty"`
	Discounts []discountModel  `bson:"discounts,omitempty"`

	Status       string             `bson:"status"`
	Instruments  []instrumentModel  `bson:"instruments"`
	Transactions []transactionModel `bson:"transactions"`

	Balance         types.Money `bson:"balance"`
	PlatformBalance types.Money `bson:"platform_balance"`

	TransferBase              types.Money `bson:"transfer_base"`
	TransferBaseDate          time.Time   `bson:"transfer_base_date"`
	EffectiveTransferBaseDate time.Time   `bson:"effective_transfer_base_date"`

	Inflation   *inflationModel   `bson:"inflation,omitempty"`
	Liquidation *liquidationModel `bson:"liquidation,omitempty"`

	CloseTime *time.Time         `bson:"close_time,omitempty"`
	Logs      []invoice.LogEntry `bson:"logs,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type lineItemModel struct {
	ID            string      `bson:"id"`
	Name          string      `bson:"name"`
	Value         types.Money `bson:"value"`
	FixedDiscount types.Money `bson:"fixed_discount"`
	Plan          string      `bson:"plan"`
	EnrollmentID  string      `bson:"enrollment_id,omitempty"`
	StudentName   string      `bson:"student_name,omitempty"`
	ClassName     string      `bson:"class_name,omitempty"`
	AcademicYear  int         `bson:"academic_year,omitempty"`
}

type finePolicyModel struct {
	OverdueFine   string `bson:"overdue_fine"`
	DailyInterest string `bson:"daily_interest"`
}

type discountModel struct {
	Days      int         `bson:"days"`
	Value     types.Money `bson:"value"`
	Percent   string      `bson:"percent"`
	LimitDate time.Time   `bson:"limit_date"`
}

type inflationModel struct {
	BaseDate   time.Time   `bson:"base_date"`
	BaseValue  types.Money `bson:"base_value"`
	Percentage string      `bson:"percentage"`
	Total      types.Money `bson:"total"`
	ComputedAt time.Time   `bson:"computed_at"`
}

type liquidationModel struct {
	ID     string      `bson:"id"`
	Date   time.Time   `bson:"date"`
	Value  types.Money `bson:"value"`
	Reason string      `bson:"reason"`
}

type instrumentModel struct {
	ID        string `bson:"id"`
	Processor string `bson:"processor"`
	AccountID string `bson:"account_id"`
	State     string `bson:"state"`
	RemoteID  string `bson:"remote_id,omitempty"`

	DueDate          time.Time `bson:"due_date"`
	EffectiveDueDate time.Time `bson:"effective_due_date"`

	Charges types.Money `bson:"charges"`

	Payer           invoice.Payer    `bson:"payer"`
	ReferencePeriod string           `bson:"reference_period"`
	Items           []lineItemModel  `bson:"items"`
	Fine            *finePolicyModel `bson:"fine,omitempty"`
	Discounts       []discountModel  `bson:"discounts,omitempty"`

	PaymentDate        *time.Time  `bson:"payment_date,omitempty"`
	GatewayPaymentDate *time.Time  `bson:"gateway_payment_date,omitempty"`
	TotalPaid          types.Money `bson:"total_paid"`
	FeesPaid           types.Money `bson:"fees_paid"`
	Commission         types.Money `bson:"commission"`
	Method             string      `bson:"method,omitempty"`
	EffectiveDiscount  types.Money `bson:"effective_discount"`
	EffectiveFine      types.Money `bson:"effective_fine"`
	CreditCardTax      types.Money `bson:"credit_card_tax"`
	PaymentShortfall   types.Money `bson:"payment_shortfall"`

	Errors      []string `bson:"errors,omitempty"`
	ErrorStatus int      `bson:"error_status,omitempty"`
	RawError    string   `bson:"raw_error,omitempty"`

	CancelReason string     `bson:"cancel_reason,omitempty"`
	CancelDate   *time.Time `bson:"cancel_date,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type transactionModel struct {
	ID          string         `bson:"id"`
	Method      string         `bson:"method"`
	Value       types.Money    `bson:"value"`
	Type        string         `bson:"type"`
	OccurredAt  time.Time      `bson:"occurred_at"`
	Side        string         `bson:"side"`
	EventID     string         `bson:"event_id"`
	Canceled    bool           `bson:"canceled"`
	ReferenceID string         `bson:"reference_id,omitempty"`
	Props       map[string]any `bson:"props,omitempty"`
	CreatedAt   time.Time      `bson:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at"`
}

type accountModel struct {
	ID            string `bson:"_id"`
	InstitutionID string `bson:"institution_id"`
	Processor     string `bson:"processor"`
	Name          string `bson:"name,omitempty"`
	Default       bool   `bson:"default"`
}

// ==================== Invoice mappers ====================

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	instruments := make([]instrumentModel, len(inv.Instruments))
	for i, ins := range inv.Instruments {
		instruments[i] = toInstrumentModel(ins)
	}

	transactions := make([]transactionModel, len(inv.Transactions))
	for i, txn := range inv.Transactions {
		transactions[i] = toTransactionModel(txn)
	}

	var liquidation *liquidationModel
	if inv.Liquidation != nil {
		liquidation = &liquidationModel{
			ID:     inv.Liquidation.ID.String(),
			Date:   inv.Liquidation.Date,
			Value:  inv.Liquidation.Value,
			Reason: string(inv.Liquidation.Reason),
		}
	}

	return &invoiceModel{
		ID:                        inv.ID.String(),
		Code:                      inv.Code,
		ExternalID:                inv.ExternalID,
		InstitutionID:             inv.InstitutionID.String(),
		InstitutionDocument:       inv.InstitutionDocument,
		InstitutionName:           inv.InstitutionName,
		ReferencePeriod:           inv.ReferencePeriod,
		Payer:                     inv.Payer,
		DueDate:                   inv.DueDate,
		EffectiveDueDate:          inv.EffectiveDueDate,
		Plan:                      string(inv.Plan),
		Items:                     toLineItemModels(inv.Items),
		Fine:                      toFinePolicyModel(inv.Fine),
		Discounts:                 toDiscountModels(inv.Discounts),
		Status:                    string(inv.Status),
		Instruments:               instruments,
		Transactions:              transactions,
		Balance:                   inv.Balance,
		PlatformBalance:           inv.PlatformBalance,
		TransferBase:              inv.TransferBase,
		TransferBaseDate:          inv.TransferBaseDate,
		EffectiveTransferBaseDate: inv.EffectiveTransferBaseDate,
		Inflation:                 toInflationModel(inv.Inflation),
		Liquidation:               liquidation,
		CloseTime:                 inv.CloseTime,
		Logs:                      inv.Logs,
		CreatedAt:                 inv.CreatedAt,
		UpdatedAt:                 inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: invoice id: %w", err)
	}
	institutionID, err := id.ParseInstitutionID(m.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: institution id: %w", err)
	}

	items, err := fromLineItemModels(m.Items)
	if err != nil {
		return nil, err
	}
	fine, err := fromFinePolicyModel(m.Fine)
	if err != nil {
		return nil, err
	}
	discounts, err := fromDiscountModels(m.Discounts)
	if err != nil {
		return nil, err
	}

	instruments := make([]*invoice.Instrument, len(m.Instruments))
	for i := range m.Instruments {
		ins, err := fromInstrumentModel(&m.Instruments[i])
		if err != nil {
			return nil, err
		}
		instruments[i] = ins
	}

	transactions := make([]*invoice.Transaction, len(m.Transactions))
	for i := range m.Transactions {
		txn, err := fromTransactionModel(&m.Transactions[i])
		if err != nil {
			return nil, err
		}
		transactions[i] = txn
	}

	var liquidation *invoice.Liquidation
	if m.Liquidation != nil {
		liqID, err := id.ParseLiquidationID(m.Liquidation.ID)
		if err != nil {
			return nil, fmt.Errorf("billing/mongo: liquidation id: %w", err)
		}
		liquidation = &invoice.Liquidation{
			ID:     liqID,
			Date:   m.Liquidation.Date,
			Value:  m.Liquidation.Value,
			Reason: invoice.LiquidationReason(m.Liquidation.Reason),
		}
	}

	inflation, err := fromInflationModel(m.Inflation)
	if err != nil {
		return nil, err
	}

	return &invoice.Invoice{
		ID:                        invID,
		Code:                      m.Code,
		ExternalID:                m.ExternalID,
		InstitutionID:             institutionID,
		InstitutionDocument:       m.InstitutionDocument,
		InstitutionName:           m.InstitutionName,
		ReferencePeriod:           m.ReferencePeriod,
		Payer:                     m.Payer,
		DueDate:                   m.DueDate,
		EffectiveDueDate:          m.EffectiveDueDate,
		Plan:                      invoice.PlanType(m.Plan),
		Items:                     items,
		Fine:                      fine,
		Discounts:                 discounts,
		Status:                    invoice.Status(m.Status),
		Instruments:               instruments,
		Transactions:              transactions,
		Balance:                   m.Balance,
		PlatformBalance:           m.PlatformBalance,
		TransferBase:              m.TransferBase,
		TransferBaseDate:          m.TransferBaseDate,
		EffectiveTransferBaseDate: m.EffectiveTransferBaseDate,
		Inflation:                 inflation,
		Liquidation:               liquidation,
		CloseTime:                 m.CloseTime,
		Logs:                      m.Logs,
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}, nil
}

func toInstrumentModel(ins *invoice.Instrument) instrumentModel {
	return instrumentModel{
		ID:                 ins.ID.String(),
		Processor:          string(ins.Processor),
		AccountID:          ins.AccountID.String(),
		State:              string(ins.State),
		RemoteID:           ins.RemoteID,
		DueDate:            ins.DueDate,
		EffectiveDueDate:   ins.EffectiveDueDate,
		Charges:            ins.Charges,
		Payer:              ins.Payer,
		ReferencePeriod:    ins.ReferencePeriod,
		Items:              toLineItemModels(ins.Items),
		Fine:               toFinePolicyModel(ins.Fine),
		Discounts:          toDiscountModels(ins.Discounts),
		PaymentDate:        ins.PaymentDate,
		GatewayPaymentDate: ins.GatewayPaymentDate,
		TotalPaid:          ins.TotalPaid,
		FeesPaid:           ins.FeesPaid,
		Commission:         ins.Commission,
		Method:             string(ins.Method),
		EffectiveDiscount:  ins.EffectiveDiscount,
		EffectiveFine:      ins.EffectiveFine,
		CreditCardTax:      ins.CreditCardTax,
		PaymentShortfall:   ins.PaymentShortfall,
		Errors:             ins.Errors,
		ErrorStatus:        ins.ErrorStatus,
		RawError:           ins.RawError,
		CancelReason:       string(ins.CancelReason),
		CancelDate:         ins.CancelDate,
		CreatedAt:          ins.CreatedAt,
		UpdatedAt:          ins.UpdatedAt,
	}
}

func fromInstrumentModel(m *instrumentModel) (*invoice.Instrument, error) {
	chargeID, err := id.ParseChargeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: charge id: %w", err)
	}
	accountID, err := uuid.Parse(m.AccountID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: account id: %w", err)
	}

	items, err := fromLineItemModels(m.Items)
	if err != nil {
		return nil, err
	}
	fine, err := fromFinePolicyModel(m.Fine)
	if err != nil {
		return nil, err
	}
	discounts, err := fromDiscountModels(m.Discounts)
	if err != nil {
		return nil, err
	}

	return &invoice.Instrument{
		ID:                 chargeID,
		Processor:          invoice.ProcessorType(m.Processor),
		AccountID:          accountID,
		State:              invoice.InstrumentState(m.State),
		RemoteID:           m.RemoteID,
		DueDate:            m.DueDate,
		EffectiveDueDate:   m.EffectiveDueDate,
		Charges:            m.Charges,
		Payer:              m.Payer,
		ReferencePeriod:    m.ReferencePeriod,
		Items:              items,
		Fine:               fine,
		Discounts:          discounts,
		PaymentDate:        m.PaymentDate,
		GatewayPaymentDate: m.GatewayPaymentDate,
		TotalPaid:          m.TotalPaid,
		FeesPaid:           m.FeesPaid,
		Commission:         m.Commission,
		Method:             invoice.PaymentMethod(m.Method),
		EffectiveDiscount:  m.EffectiveDiscount,
		EffectiveFine:      m.EffectiveFine,
		CreditCardTax:      m.CreditCardTax,
		PaymentShortfall:   m.PaymentShortfall,
		Errors:             m.Errors,
		ErrorStatus:        m.ErrorStatus,
		RawError:           m.RawError,
		CancelReason:       invoice.CancelReason(m.CancelReason),
		CancelDate:         m.CancelDate,
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}, nil
}

func toTransactionModel(txn *invoice.Transaction) transactionModel {
	var ref string
	if txn.ReferenceID != id.Nil {
		ref = txn.ReferenceID.String()
	}
	return transactionModel{
		ID:          txn.ID.String(),
		Method:      txn.Method,
		Value:       txn.Value,
		Type:        string(txn.Type),
		OccurredAt:  txn.OccurredAt,
		Side:        string(txn.Side),
		EventID:     txn.EventID.String(),
		Canceled:    txn.Canceled,
		ReferenceID: ref,
		Props:       txn.Props,
		CreatedAt:   txn.CreatedAt,
		UpdatedAt:   txn.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*invoice.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: transaction id: %w", err)
	}
	eventID, err := uuid.Parse(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: event id: %w", err)
	}

	ref := id.Nil
	if m.ReferenceID != "" {
		ref, err = id.ParseTransactionID(m.ReferenceID)
		if err != nil {
			return nil, fmt.Errorf("billing/mongo: reference id: %w", err)
		}
	}

	return &invoice.Transaction{
		ID:          txnID,
		Method:      m.Method,
		Value:       m.Value,
		Type:        invoice.TransactionType(m.Type),
		OccurredAt:  m.OccurredAt,
		Side:        invoice.Side(m.Side),
		EventID:     eventID,
		Canceled:    m.Canceled,
		ReferenceID: ref,
		Props:       m.Props,
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}, nil
}

func toLineItemModels(items []invoice.LineItem) []lineItemModel {
	models := make([]lineItemModel, len(items))
	for i, item := range items {
		var enrollment string
		if item.EnrollmentID != id.Nil {
			enrollment = item.EnrollmentID.String()
		}
		models[i] = lineItemModel{
			ID:            item.ID.String(),
			Name:          item.Name,
			Value:         item.Value,
			FixedDiscount: item.FixedDiscount,
			Plan:          string(item.Plan),
			EnrollmentID:  enrollment,
			StudentName:   item.StudentName,
			ClassName:     item.ClassName,
			AcademicYear:  item.AcademicYear,
		}
	}
	return models
}

func fromLineItemModels(models []lineItemModel) ([]invoice.LineItem, error) {
	items := make([]invoice.LineItem, len(models))
	for i, m := range models {
		itemID, err := id.ParseLineItemID(m.ID)
		if err != nil {
			return nil, fmt.Errorf("billing/mongo: line item id: %w", err)
		}
		enrollment := id.Nil
		if m.EnrollmentID != "" {
			enrollment, err = id.ParseEnrollmentID(m.EnrollmentID)
			if err != nil {
				return nil, fmt.Errorf("billing/mongo: enrollment id: %w", err)
			}
		}
		items[i] = invoice.LineItem{
			ID:            itemID,
			Name:          m.Name,
			Value:         m.Value,
			FixedDiscount: m.FixedDiscount,
			Plan:          invoice.PlanType(m.Plan),
			EnrollmentID:  enrollment,
			StudentName:   m.StudentName,
			ClassName:     m.ClassName,
			AcademicYear:  m.AcademicYear,
		}
	}
	return items, nil
}

func toFinePolicyModel(f *invoice.FinePolicy) *finePolicyModel {
	if f == nil {
		return nil
	}
	return &finePolicyModel{
		OverdueFine:   f.OverdueFine.String(),
		DailyInterest: f.DailyInterest.String(),
	}
}

func fromFinePolicyModel(m *finePolicyModel) (*invoice.FinePolicy, error) {
	if m == nil {
		return nil, nil
	}
	overdue, err := decimal.NewFromString(m.OverdueFine)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: overdue fine: %w", err)
	}
	daily, err := decimal.NewFromString(m.DailyInterest)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: daily interest: %w", err)
	}
	return &invoice.FinePolicy{OverdueFine: overdue, DailyInterest: daily}, nil
}

func toDiscountModels(discounts []invoice.EarlyPaymentDiscount) []discountModel {
	if len(discounts) == 0 {
		return nil
	}
	models := make([]discountModel, len(discounts))
	for i, d := range discounts {
		models[i] = discountModel{
			Days:      d.Days,
			Value:     d.Value,
			Percent:   d.Percent.String(),
			LimitDate: d.LimitDate,
		}
	}
	return models
}

func fromDiscountModels(models []discountModel) ([]invoice.EarlyPaymentDiscount, error) {
	if len(models) == 0 {
		return nil, nil
	}
	discounts := make([]invoice.EarlyPaymentDiscount, len(models))
	for i, m := range models {
		percent, err := decimal.NewFromString(m.Percent)
		if err != nil {
			return nil, fmt.Errorf("billing/mongo: discount percent: %w", err)
		}
		discounts[i] = invoice.EarlyPaymentDiscount{
			Days:      m.Days,
			Value:     m.Value,
			Percent:   percent,
			LimitDate: m.LimitDate,
		}
	}
	return discounts, nil
}

func toInflationModel(f *invoice.InflationFine) *inflationModel {
	if f == nil {
		return nil
	}
	return &inflationModel{
		BaseDate:   f.BaseDate,
		BaseValue:  f.BaseValue,
		Percentage: f.Percentage.String(),
		Total:      f.Total,
		ComputedAt: f.ComputedAt,
	}
}

func fromInflationModel(m *inflationModel) (*invoice.InflationFine, error) {
	if m == nil {
		return nil, nil
	}
	percentage, err := decimal.NewFromString(m.Percentage)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: inflation percentage: %w", err)
	}
	return &invoice.InflationFine{
		BaseDate:   m.BaseDate,
		BaseValue:  m.BaseValue,
		Percentage: percentage,
		Total:      m.Total,
		ComputedAt: m.ComputedAt,
	}, nil
}

// ==================== Account mappers ====================

func toAccountModel(a *gateway.Account) *accountModel {
	return &accountModel{
		ID:            a.ID.String(),
		InstitutionID: a.InstitutionID.String(),
		Processor:     string(a.Processor),
		Name:          a.Name,
		Default:       a.Default,
	}
}

func fromAccountModel(m *accountModel) (*gateway.Account, error) {
	accountID, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: account id: %w", err)
	}
	institutionID, err := id.ParseInstitutionID(m.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: institution id: %w", err)
	}
	return &gateway.Account{
		ID:            accountID,
		InstitutionID: institutionID,
		Processor:     invoice.ProcessorType(m.Processor),
		Name:          m.Name,
		Default:       m.Default,
	}, nil
}
