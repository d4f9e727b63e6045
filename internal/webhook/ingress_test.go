package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/MarchenkoRuslan/faberge-egg/config"
	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/settlement"
)

type fakeSettler struct {
	calls   []orderstore.Confirmation
	outcome settlement.Outcome
	err     error
}

func (f *fakeSettler) Settle(_ context.Context, conf orderstore.Confirmation) (settlement.Outcome, error) {
	f.calls = append(f.calls, conf)
	return f.outcome, f.err
}

func newIngress(settler Settler) *Ingress {
	return NewIngress(config.GatewaysConfig{
		Cardpay:   config.GatewayConfig{WebhookSecret: "card-secret"},
		Cryptopay: config.GatewayConfig{WebhookSecret: "crypto-secret"},
	}, settler, nil, nil)
}

const cardpayCompleted = `{
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_123",
    "amount_total": 3000,
    "currency": "eur",
    "metadata": {"order_id": "7"}
  }}
}`

func TestHandleCardpaySettles(t *testing.T) {
	settler := &fakeSettler{outcome: settlement.Outcome{Result: settlement.ResultSettled}}
	ingress := newIngress(settler)

	body := []byte(cardpayCompleted)
	err := ingress.Handle(context.Background(), orderstore.MethodCardpay, Sign("card-secret", body), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(settler.calls) != 1 {
		t.Fatalf("expected one settlement call, got %d", len(settler.calls))
	}
	conf := settler.calls[0]
	if conf.OrderID != 7 || conf.ExternalID != "cs_123" || conf.Method != orderstore.MethodCardpay {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if conf.AmountCents == nil || *conf.AmountCents != 3000 || conf.Currency != "eur" {
		t.Fatalf("cardpay must report amount and currency, got %+v", conf)
	}
}

func TestHandleRejectsInvalidSignatureBeforeParse(t *testing.T) {
	settler := &fakeSettler{}
	ingress := newIngress(settler)

	// Body is malformed JSON; the signature failure must win.
	body := []byte(`{"type": "checkout.session.completed", broken`)
	err := ingress.Handle(context.Background(), orderstore.MethodCardpay, "sha256=deadbeef", body)
	var envelope *errs.E
	if !errors.As(err, &envelope) || envelope.Code != errs.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if len(settler.calls) != 0 {
		t.Fatal("settlement must not run for unauthenticated callbacks")
	}
}

func TestHandleAcksNonSuccessStatusWithoutSettling(t *testing.T) {
	settler := &fakeSettler{}
	ingress := newIngress(settler)

	body := []byte(`{"order_id": 7, "transaction_id": "tx_9", "status": "failed"}`)
	err := ingress.Handle(context.Background(), orderstore.MethodCryptopay, Sign("crypto-secret", body), body)
	if err != nil {
		t.Fatalf("failed status must be acknowledged, got %v", err)
	}
	if len(settler.calls) != 0 {
		t.Fatal("failed status must not reach settlement")
	}
}

func TestHandleCryptopaySuccess(t *testing.T) {
	settler := &fakeSettler{outcome: settlement.Outcome{Result: settlement.ResultSettled}}
	ingress := newIngress(settler)

	body := []byte(`{"order_id": "15", "payment_id": "pay_3", "status": "PAID"}`)
	if err := ingress.Handle(context.Background(), orderstore.MethodCryptopay, Sign("crypto-secret", body), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conf := settler.calls[0]
	if conf.OrderID != 15 || conf.ExternalID != "pay_3" || conf.Method != orderstore.MethodCryptopay {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if conf.AmountCents != nil || conf.Currency != "" {
		t.Fatalf("cryptopay reports no amount or currency, got %+v", conf)
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	ingress := newIngress(&fakeSettler{})

	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"type": "checkout.session.completed", "data": {"object": {"id": "cs_1", "metadata": {"order_id": "abc"}}}}`),
		[]byte(`{"type": "checkout.session.completed", "data": {"object": {"id": "cs_1", "metadata": {"order_id": "-3"}}}}`),
		[]byte(`{"type": "checkout.session.completed", "data": {"object": {"metadata": {"order_id": "5"}}}}`),
	}
	for _, body := range cases {
		err := ingress.Handle(context.Background(), orderstore.MethodCardpay, Sign("card-secret", body), body)
		var envelope *errs.E
		if !errors.As(err, &envelope) || envelope.Code != errs.CodeInvalid {
			t.Fatalf("expected invalid_request for %s, got %v", body, err)
		}
	}
}

func TestHandleBusinessRejectionIsAcknowledged(t *testing.T) {
	settler := &fakeSettler{outcome: settlement.Outcome{
		Result: settlement.ResultRejected,
		Reason: errs.CanonicalAmountMismatch,
	}}
	ingress := newIngress(settler)

	body := []byte(cardpayCompleted)
	if err := ingress.Handle(context.Background(), orderstore.MethodCardpay, Sign("card-secret", body), body); err != nil {
		t.Fatalf("authenticated business rejections must be acknowledged, got %v", err)
	}
}

func TestHandleInfrastructureErrorIsRetryable(t *testing.T) {
	settler := &fakeSettler{err: errors.New("db down")}
	ingress := newIngress(settler)

	body := []byte(cardpayCompleted)
	err := ingress.Handle(context.Background(), orderstore.MethodCardpay, Sign("card-secret", body), body)
	if err == nil {
		t.Fatal("infrastructure failures must surface for provider redelivery")
	}
	var envelope *errs.E
	if errors.As(err, &envelope) {
		t.Fatalf("infrastructure failures must not be wrapped as business errors, got %v", err)
	}
}

func TestHandleUnknownProvider(t *testing.T) {
	ingress := newIngress(&fakeSettler{})
	err := ingress.Handle(context.Background(), "paypal", "", []byte(`{}`))
	var envelope *errs.E
	if !errors.As(err, &envelope) || envelope.Code != errs.CodeNotFound {
		t.Fatalf("expected not_found for unknown provider, got %v", err)
	}
}

func TestHandleIgnoresOtherCardpayEvents(t *testing.T) {
	settler := &fakeSettler{}
	ingress := newIngress(settler)

	body := []byte(`{"type": "checkout.session.expired", "data": {"object": {"id": "cs_1"}}}`)
	if err := ingress.Handle(context.Background(), orderstore.MethodCardpay, Sign("card-secret", body), body); err != nil {
		t.Fatalf("non-completion events must be acknowledged, got %v", err)
	}
	if len(settler.calls) != 0 {
		t.Fatal("non-completion events must not reach settlement")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := Sign("secret", body)

	if !VerifySignature("secret", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if !VerifySignature("secret", body, "sha256="+sig) {
		t.Fatal("prefixed signature rejected")
	}
	if VerifySignature("secret", body, "") {
		t.Fatal("empty signature accepted")
	}
	if VerifySignature("secret", body, "zz-not-hex") {
		t.Fatal("non-hex signature accepted")
	}
	if VerifySignature("other", body, sig) {
		t.Fatal("signature accepted under wrong secret")
	}
	if VerifySignature("secret", []byte(`{"hello":"tampered"}`), sig) {
		t.Fatal("signature accepted for tampered body")
	}
}
