package persistence_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/outboxstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/userstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/infra/persistence/migrations"
	pgstore "github.com/MarchenkoRuslan/faberge-egg/internal/infra/persistence/postgres"
	"github.com/MarchenkoRuslan/faberge-egg/internal/settlement"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "marketplace"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/marketplace?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func requirePostgres(t *testing.T) {
	t.Helper()
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
}

func seedUser(t *testing.T, ctx context.Context, users *pgstore.UserStore) userstore.User {
	t.Helper()
	email := fmt.Sprintf("buyer-%s@example.com", uuid.NewString())
	user, err := users.CreateUser(ctx, email, "$2a$10$contract.test.hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func seedLot(t *testing.T, ctx context.Context, specialCap, soldSpecial int64) int64 {
	t.Helper()
	const insertLotSQL = `
INSERT INTO lots (name, slug, total_fractions, special_cap, sold_special, price_special, price_nominal)
VALUES ($1, $2, $3, $4, $5, '0.0300', '1.0000')
RETURNING id;
`
	slug := "lot-" + uuid.NewString()
	var id int64
	err := testPool.QueryRow(ctx, insertLotSQL, "Imperial "+slug, slug, specialCap*2, specialCap, soldSpecial).Scan(&id)
	if err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	return id
}

func TestUserAndTokenRoundTrip(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()
	users := pgstore.NewUserStore(testPool)

	user := seedUser(t, ctx, users)
	if user.ID == 0 {
		t.Fatalf("expected user id to be set")
	}

	if _, err := users.CreateUser(ctx, user.Email, "another-hash"); err != userstore.ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken for duplicate email, got %v", err)
	}

	loaded, found, err := users.GetUserByEmail(ctx, "  "+user.Email+" ")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if !found || loaded.ID != user.ID {
		t.Fatalf("expected user %d by email, got found=%v id=%d", user.ID, found, loaded.ID)
	}

	hash := "hash-" + uuid.NewString()
	token, err := users.CreateToken(ctx, user.ID, userstore.PurposeSession, hash, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	active, found, err := users.FindActiveToken(ctx, userstore.PurposeSession, hash)
	if err != nil {
		t.Fatalf("find active token: %v", err)
	}
	if !found || active.ID != token.ID || active.UserID != user.ID {
		t.Fatalf("expected token %d for user %d, got found=%v token=%+v", token.ID, user.ID, found, active)
	}

	expiredHash := "hash-" + uuid.NewString()
	if _, err := users.CreateToken(ctx, user.ID, userstore.PurposeSession, expiredHash, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create expired token: %v", err)
	}
	if _, found, err := users.FindActiveToken(ctx, userstore.PurposeSession, expiredHash); err != nil || found {
		t.Fatalf("expected expired token to be invisible, got found=%v err=%v", found, err)
	}
}

func TestOrderLifecycle(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()
	users := pgstore.NewUserStore(testPool)
	orders := pgstore.NewOrderStore(testPool)
	lots := pgstore.NewLotStore(testPool)

	user := seedUser(t, ctx, users)
	lotID := seedLot(t, ctx, 1_000_000, 0)

	lot, found, err := lots.GetActive(ctx, lotID)
	if err != nil || !found {
		t.Fatalf("get active lot: found=%v err=%v", found, err)
	}
	if lot.PriceSpecial.String() != "0.03" {
		t.Fatalf("unexpected special price %s", lot.PriceSpecial)
	}

	order, err := orders.CreateOrder(ctx, orderstore.NewOrder{
		UserID:        user.ID,
		LotID:         lotID,
		FractionCount: 1000,
		AmountCents:   3000,
		PaymentMethod: orderstore.MethodCardpay,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != orderstore.StatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}

	got, found, err := orders.GetOrderForUser(ctx, order.ID, user.ID)
	if err != nil || !found {
		t.Fatalf("get order for owner: found=%v err=%v", found, err)
	}
	if got.AmountCents != 3000 || got.PaymentMethod != orderstore.MethodCardpay {
		t.Fatalf("unexpected order row %+v", got)
	}

	other := seedUser(t, ctx, users)
	if _, found, err := orders.GetOrderForUser(ctx, order.ID, other.ID); err != nil || found {
		t.Fatalf("expected order to be hidden from other users, got found=%v err=%v", found, err)
	}

	listed, err := orders.ListUserOrders(ctx, user.ID)
	if err != nil {
		t.Fatalf("list user orders: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order.ID {
		t.Fatalf("expected 1 order %d, got %+v", order.ID, listed)
	}

	if err := orders.DeleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("delete pending order: %v", err)
	}
	if _, found, err := orders.GetOrderForUser(ctx, order.ID, user.ID); err != nil || found {
		t.Fatalf("expected deleted order to be gone, got found=%v err=%v", found, err)
	}
}

func TestSettlementIdempotentUnderConcurrentRedelivery(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()
	users := pgstore.NewUserStore(testPool)
	orders := pgstore.NewOrderStore(testPool)
	lots := pgstore.NewLotStore(testPool)
	outbox := pgstore.NewOutboxStore(testPool)

	user := seedUser(t, ctx, users)
	lotID := seedLot(t, ctx, 3_000_000, 0)

	order, err := orders.CreateOrder(ctx, orderstore.NewOrder{
		UserID:        user.ID,
		LotID:         lotID,
		FractionCount: 1000,
		AmountCents:   3000,
		PaymentMethod: orderstore.MethodCardpay,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	engine := settlement.New(orders, outbox, nil, nil)
	amount := int64(3000)
	conf := orderstore.Confirmation{
		OrderID:     order.ID,
		ExternalID:  "cs_" + uuid.NewString(),
		Method:      orderstore.MethodCardpay,
		AmountCents: &amount,
		Currency:    "eur",
	}

	const deliveries = 8
	outcomes := make([]settlement.Outcome, deliveries)
	settleErrs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], settleErrs[i] = engine.Settle(ctx, conf)
		}(i)
	}
	wg.Wait()

	var settled, replayed int
	for i := 0; i < deliveries; i++ {
		if settleErrs[i] != nil {
			t.Fatalf("delivery %d failed: %v", i, settleErrs[i])
		}
		switch outcomes[i].Result {
		case settlement.ResultSettled:
			settled++
		case settlement.ResultAlreadySettled:
			replayed++
		default:
			t.Fatalf("delivery %d: unexpected outcome %+v", i, outcomes[i])
		}
	}
	if settled != 1 || replayed != deliveries-1 {
		t.Fatalf("expected exactly one settlement, got settled=%d replayed=%d", settled, replayed)
	}

	paid, found, err := orders.GetOrderForUser(ctx, order.ID, user.ID)
	if err != nil || !found {
		t.Fatalf("reload order: found=%v err=%v", found, err)
	}
	if paid.Status != orderstore.StatusPaid || paid.ExternalPaymentID != conf.ExternalID {
		t.Fatalf("expected paid order with external id %s, got %+v", conf.ExternalID, paid)
	}

	lot, found, err := lots.GetActive(ctx, lotID)
	if err != nil || !found {
		t.Fatalf("reload lot: found=%v err=%v", found, err)
	}
	if lot.SoldSpecial != 1000 {
		t.Fatalf("expected sold_special 1000 after redelivery storm, got %d", lot.SoldSpecial)
	}

	pending, err := outbox.ListPending(ctx, 100)
	if err != nil {
		t.Fatalf("list pending events: %v", err)
	}
	var paidEvents int
	for _, record := range pending {
		if record.AggregateID == fmt.Sprintf("%d", order.ID) && record.EventType == "order.paid" {
			paidEvents++
		}
	}
	if paidEvents != 1 {
		t.Fatalf("expected exactly one order.paid event, got %d", paidEvents)
	}
}

func TestSettlementCapacityContention(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()
	users := pgstore.NewUserStore(testPool)
	orders := pgstore.NewOrderStore(testPool)
	lots := pgstore.NewLotStore(testPool)

	user := seedUser(t, ctx, users)
	lotID := seedLot(t, ctx, 1000, 500)

	createOrder := func(count, amount int64) orderstore.Order {
		order, err := orders.CreateOrder(ctx, orderstore.NewOrder{
			UserID:        user.ID,
			LotID:         lotID,
			FractionCount: count,
			AmountCents:   amount,
			PaymentMethod: orderstore.MethodCryptopay,
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		return order
	}
	first := createOrder(400, 1200)
	second := createOrder(300, 900)

	engine := settlement.New(orders, nil, nil, nil)
	var wg sync.WaitGroup
	results := make([]settlement.Outcome, 2)
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			out, err := engine.Settle(ctx, orderstore.Confirmation{
				OrderID:    id,
				ExternalID: "tx_" + uuid.NewString(),
				Method:     orderstore.MethodCryptopay,
			})
			if err != nil {
				t.Errorf("settle order %d: %v", id, err)
				return
			}
			results[i] = out
		}(i, id)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	// Remaining capacity is 500: the first order to commit fits, leaving too
	// few fractions for the other.
	var settled, rejected int
	for _, out := range results {
		switch out.Result {
		case settlement.ResultSettled:
			settled++
		case settlement.ResultRejected:
			rejected++
			if out.Reason != errs.CanonicalCapacityExceeded {
				t.Fatalf("expected capacity rejection, got %s", out.Reason)
			}
		}
	}
	if settled != 1 || rejected != 1 {
		t.Fatalf("expected one settlement and one capacity rejection, got settled=%d rejected=%d", settled, rejected)
	}

	lot, found, err := lots.GetActive(ctx, lotID)
	if err != nil || !found {
		t.Fatalf("reload lot: found=%v err=%v", found, err)
	}
	if lot.SoldSpecial > lot.SpecialCap {
		t.Fatalf("cap breached: sold=%d cap=%d", lot.SoldSpecial, lot.SpecialCap)
	}
}

func TestSettlementRejectionLeavesRowsUntouched(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()
	users := pgstore.NewUserStore(testPool)
	orders := pgstore.NewOrderStore(testPool)
	lots := pgstore.NewLotStore(testPool)

	user := seedUser(t, ctx, users)
	lotID := seedLot(t, ctx, 10_000, 250)

	order, err := orders.CreateOrder(ctx, orderstore.NewOrder{
		UserID:        user.ID,
		LotID:         lotID,
		FractionCount: 500,
		AmountCents:   1500,
		PaymentMethod: orderstore.MethodCardpay,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	engine := settlement.New(orders, nil, nil, nil)
	wrongAmount := int64(1400)
	out, err := engine.Settle(ctx, orderstore.Confirmation{
		OrderID:     order.ID,
		ExternalID:  "cs_" + uuid.NewString(),
		Method:      orderstore.MethodCardpay,
		AmountCents: &wrongAmount,
		Currency:    "EUR",
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.Result != settlement.ResultRejected || out.Reason != errs.CanonicalAmountMismatch {
		t.Fatalf("expected amount mismatch rejection, got %+v", out)
	}

	reloaded, found, err := orders.GetOrderForUser(ctx, order.ID, user.ID)
	if err != nil || !found {
		t.Fatalf("reload order: found=%v err=%v", found, err)
	}
	if reloaded.Status != orderstore.StatusPending || reloaded.ExternalPaymentID != "" {
		t.Fatalf("expected untouched pending order, got %+v", reloaded)
	}
	lot, found, err := lots.GetActive(ctx, lotID)
	if err != nil || !found {
		t.Fatalf("reload lot: found=%v err=%v", found, err)
	}
	if lot.SoldSpecial != 250 {
		t.Fatalf("expected sold_special unchanged at 250, got %d", lot.SoldSpecial)
	}
}

func TestOutboxDeliveryFlow(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()
	outbox := pgstore.NewOutboxStore(testPool)

	aggregateID := uuid.NewString()
	record, err := outbox.Enqueue(ctx, outboxstore.Event{
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     "order.paid",
		Payload:       []byte(`{"order_id":1}`),
		AvailableAt:   time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("enqueue event: %v", err)
	}
	if record.ID == 0 {
		t.Fatalf("expected event id to be set")
	}

	pending, err := outbox.ListPending(ctx, 100)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var visible bool
	for _, row := range pending {
		if row.ID == record.ID {
			visible = true
		}
	}
	if !visible {
		t.Fatalf("expected event %d in pending set", record.ID)
	}

	if err := outbox.MarkFailed(ctx, record.ID, "broker unavailable"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, err = outbox.ListPending(ctx, 100)
	if err != nil {
		t.Fatalf("list pending after failure: %v", err)
	}
	for _, row := range pending {
		if row.ID == record.ID {
			t.Fatalf("expected failed event to back off, still pending: %+v", row)
		}
	}

	if err := outbox.MarkDelivered(ctx, record.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	pending, err = outbox.ListPending(ctx, 100)
	if err != nil {
		t.Fatalf("list pending after delivery: %v", err)
	}
	for _, row := range pending {
		if row.ID == record.ID {
			t.Fatalf("expected delivered event out of pending set")
		}
	}
}
