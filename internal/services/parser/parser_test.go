package parser

import (
	"encoding/json"
	"errors"
	"testing"

	"email-payment-gateway/internal/models"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const gtbankHTML = `<html><body><table>
<tr><td>Account Number</td><td>0011223344</td></tr>
<tr><td>Amount</td><td>NGN 5,000.00</td></tr>
<tr><td>Description</td><td>FROM ADA OBI TO GATEWAY</td></tr>
</table></body></html>`

func TestParse(t *testing.T) {
	p := New()

	Convey("GTBank table notifications", t, func() {
		x, err := p.Parse(&models.InboundEmail{
			FromAddress: "alerts@gtbank.com",
			Subject:     "GeNS Transaction Notification",
			HTMLBody:    gtbankHTML,
		})
		So(err, ShouldBeNil)
		So(x.Bank, ShouldEqual, "gtbank")
		So(x.Amount.Equal(decimal.NewFromInt(5000)), ShouldBeTrue)
		So(x.AccountNumber, ShouldEqual, "0011223344")
		So(x.PayerNameFragment, ShouldEqual, "ada obi")
		So(x.Reference, ShouldEqual, "FROM ADA OBI TO GATEWAY")
	})

	Convey("GTBank description digits supply the account when no label exists", t, func() {
		x, err := p.Parse(&models.InboundEmail{
			FromAddress: "alerts@gtbank.com",
			TextBody: "Amount : NGN 1,000.00\n" +
				"Description : 0011223344998877665500000020260111123456789 FROM ADA OBI TO X",
		})
		So(err, ShouldBeNil)
		So(x.AccountNumber, ShouldEqual, "0011223344")
		So(x.PayerAccountNumber, ShouldEqual, "9988776655")
		So(x.TransactionDate, ShouldEqual, "2026-01-11")
		So(x.Amount.String(), ShouldEqual, "1000")
	})

	Convey("Kuda sentence notifications", t, func() {
		x, err := p.Parse(&models.InboundEmail{
			FromAddress: "no-reply@kudabank.com",
			TextBody:    "Transaction Notification\nADA OBI just sent you ₦5,000.00\nReference: KUD-12345",
		})
		So(err, ShouldBeNil)
		So(x.Bank, ShouldEqual, "kuda")
		So(x.Amount.String(), ShouldEqual, "5000")
		So(x.PayerNameFragment, ShouldEqual, "ada obi")
		So(x.Reference, ShouldEqual, "KUD-12345")
		So(x.AccountNumber, ShouldEqual, "")
	})

	Convey("Moniepoint labelled notifications", t, func() {
		x, err := p.Parse(&models.InboundEmail{
			FromAddress: "alerts@moniepoint.com",
			TextBody: "Credit Amount: NGN 12,500.50\nSender Name: JOHN DOE\n" +
				"Beneficiary Account: 5566778899\nTransaction Reference: MP2026011200001",
		})
		So(err, ShouldBeNil)
		So(x.Bank, ShouldEqual, "moniepoint")
		So(x.Amount.Equal(decimal.RequireFromString("12500.50")), ShouldBeTrue)
		So(x.AccountNumber, ShouldEqual, "5566778899")
		So(x.PayerNameFragment, ShouldEqual, "john doe")
		So(x.Reference, ShouldEqual, "MP2026011200001")
	})

	Convey("Unknown senders fall through to the generic format", t, func() {
		x, err := p.Parse(&models.InboundEmail{
			FromAddress: "alerts@smallbank.ng",
			TextBody:    "Amt: N2,000\nAcct No: 1234567890\nNarration: school fees\nDepositor: JANE ROE",
		})
		So(err, ShouldBeNil)
		So(x.Bank, ShouldEqual, "generic")
		So(x.Amount.String(), ShouldEqual, "2000")
		So(x.AccountNumber, ShouldEqual, "1234567890")
		So(x.PayerNameFragment, ShouldEqual, "jane roe")
		So(x.Reference, ShouldEqual, "school fees")
	})

	Convey("Quoted-printable bodies are decoded before matching", t, func() {
		x, err := p.Parse(&models.InboundEmail{
			FromAddress: "alerts@gtbank.com",
			TextBody:    "Account Number=20:=20001122\nAmount=20:=20NGN=205,000.00",
		})
		So(err, ShouldBeNil)
		So(x.AccountNumber, ShouldEqual, "001122")
		So(x.Amount.String(), ShouldEqual, "5000")
	})

	Convey("Failures are reported as unparsable", t, func() {
		var unparsable *UnparsableEmailError

		_, err := p.Parse(&models.InboundEmail{FromAddress: "alerts@gtbank.com"})
		So(errors.As(err, &unparsable), ShouldBeTrue)
		So(unparsable.Reason, ShouldEqual, "empty body")

		_, err = p.Parse(&models.InboundEmail{TextBody: "Hello, your statement is ready."})
		So(errors.As(err, &unparsable), ShouldBeTrue)
		So(unparsable.Reason, ShouldEqual, "no amount found")

		_, err = p.Parse(&models.InboundEmail{FromAddress: "alerts@gtbank.com", TextBody: "Amount : NGN 0.00"})
		So(errors.As(err, &unparsable), ShouldBeTrue)
		So(unparsable.Reason, ShouldStartWith, "invalid amount")
	})
}

func TestExtractionMap(t *testing.T) {
	Convey("The stored mapping carries the amount as a two-decimal number", t, func() {
		x := &Extraction{Bank: "gtbank", Amount: decimal.NewFromInt(5000), AccountNumber: "001122"}
		b, err := json.Marshal(x.Map())
		So(err, ShouldBeNil)
		So(string(b), ShouldEqual, `{"account_number":"001122","amount":5000.00,"bank":"gtbank"}`)
	})
}

func TestNormalizeAmount(t *testing.T) {
	Convey("Amounts are normalised", t, func() {
		cases := map[string]string{
			"5,000.00":     "5000",
			"NGN 1,000":    "1000",
			"₦250.50":      "250.5",
			"N5,000":       "5000",
			"5000 naira":   "5000",
			"ngn1,234,567": "1234567",
		}
		for in, want := range cases {
			got, err := NormalizeAmount(in)
			So(err, ShouldBeNil)
			So(got.String(), ShouldEqual, want)
		}
	})

	Convey("Invalid amounts are rejected", t, func() {
		for _, in := range []string{"", "abc", "0", "0.00", "-5", "NGN", "1.2.3"} {
			_, err := NormalizeAmount(in)
			So(err, ShouldNotBeNil)
		}
	})
}

func TestNormalize(t *testing.T) {
	Convey("HTML cells and entities flatten to readable lines", t, func() {
		out := Normalize("", `<style>td{}</style><table><tr><td>Sender&nbsp;Name</td><td>A &amp; B</td></tr></table>`)
		So(out, ShouldEqual, "Sender Name A & B")
	})

	Convey("Text bodies come before the rendered HTML", t, func() {
		So(Normalize("plain line", "<p>html line</p>"), ShouldEqual, "plain line\nhtml line")
	})
}
