package services

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/tradepost/backend/internal/models"
)

// PayoutRail is the black-box API that physically moves money out to a bank
// account. The rail reports final status asynchronously; SendCredit only
// covers the submission leg.
type PayoutRail interface {
	SendCredit(ctx context.Context, w *models.Withdrawal) error
}

// ISO20022Rail talks to the settlement rail in pacs.008 customer credit
// transfers.
type ISO20022Rail struct {
	endpoint string
	currency string
	client   *http.Client
}

func NewISO20022Rail() *ISO20022Rail {
	viper.SetDefault("payout.endpoint", "http://localhost:9090/settlement")
	viper.SetDefault("payout.currency", "USD")
	return &ISO20022Rail{
		endpoint: viper.GetString("payout.endpoint"),
		currency: viper.GetString("payout.currency"),
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *ISO20022Rail) SendCredit(ctx context.Context, w *models.Withdrawal) error {
	doc, err := r.createPacs008(w)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPayoutRail, err)
	}

	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal XML: %v", ErrPayoutRail, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader([]byte(xml.Header+string(xmlData))))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPayoutRail, err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPayoutRail, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: rail returned status %d", ErrPayoutRail, resp.StatusCode)
	}

	log.Printf("[PAYOUT] Withdrawal %s submitted to rail", w.ID)
	return nil
}

// createPacs008 builds a FIToFICustomerCreditTransfer for the withdrawal.
func (r *ISO20022Rail) createPacs008(w *models.Withdrawal) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	// Ledger amounts are minor units; the wire wants major units.
	amount := decimal.NewFromInt(w.Amount).Div(decimal.NewFromInt(100)).InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(r.currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(w.ID)}[0],
					EndToEndId: common.Max35Text(w.ID),
					TxId:       &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(r.currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("TRADEPST")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(w.AccountID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(w.DestinationBankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(w.DestinationAccount)}[0],
				},
			},
		},
	}

	return doc, nil
}

// WithdrawalStatusFromRailCode maps ISO external payment status codes from a
// pacs.002 report to withdrawal statuses. Unknown codes keep the withdrawal
// pending.
func WithdrawalStatusFromRailCode(code string) string {
	switch code {
	case "ACSC", "ACCC":
		return models.WithdrawalCompleted
	case "RJCT":
		return models.WithdrawalFailed
	}
	return models.WithdrawalPending
}
