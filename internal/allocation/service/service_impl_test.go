package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/ngtluan2k/NextMarket-sub001/internal/allocation/domain"
	attributionservice "github.com/ngtluan2k/NextMarket-sub001/internal/attribution/service"
	auditservice "github.com/ngtluan2k/NextMarket-sub001/internal/audit/service"
	"github.com/ngtluan2k/NextMarket-sub001/internal/clock"
	"github.com/ngtluan2k/NextMarket-sub001/internal/config"
	"github.com/ngtluan2k/NextMarket-sub001/internal/events"
	fraudservice "github.com/ngtluan2k/NextMarket-sub001/internal/fraud/service"
	"github.com/ngtluan2k/NextMarket-sub001/internal/observability/metrics"
	orderrepository "github.com/ngtluan2k/NextMarket-sub001/internal/order/repository"
	programservice "github.com/ngtluan2k/NextMarket-sub001/internal/program/service"
	referralservice "github.com/ngtluan2k/NextMarket-sub001/internal/referral/service"
	ruleservice "github.com/ngtluan2k/NextMarket-sub001/internal/rule/service"
	walletdomain "github.com/ngtluan2k/NextMarket-sub001/internal/wallet/domain"
	walletservice "github.com/ngtluan2k/NextMarket-sub001/internal/wallet/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

var _ clock.Clock = testClock{}

func (c testClock) Now() time.Time { return c.now }

func (c testClock) Sleep(_ context.Context, _ time.Duration) {}

// failingPoster fails the first n Post calls, then delegates.
type failingPoster struct {
	inner    walletdomain.Poster
	failures int
	calls    int
}

func (p *failingPoster) Post(ctx context.Context, userID snowflake.ID, amount decimal.Decimal, reference, memo string) (decimal.Decimal, error) {
	p.calls++
	if p.calls <= p.failures {
		return decimal.Zero, errors.New("wallet_unavailable")
	}
	return p.inner.Post(ctx, userID, amount, reference, memo)
}

func (p *failingPoster) Deduct(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal, reference, reason string) error {
	return p.inner.Deduct(ctx, tx, userID, amount, reference, reason)
}

func setupAllocationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active'
		)`,
		`CREATE TABLE referral_edges (
			id BIGINT PRIMARY KEY,
			referrer_id BIGINT NOT NULL,
			referee_id BIGINT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE programs (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			total_budget DECIMAL(20,2) NOT NULL DEFAULT 0,
			spent_budget DECIMAL(20,2) NOT NULL DEFAULT 0,
			pending_budget DECIMAL(20,2) NOT NULL DEFAULT 0,
			monthly_budget_cap DECIMAL(20,2),
			daily_budget_cap DECIMAL(20,2),
			auto_pause_on_budget_limit BOOLEAN NOT NULL DEFAULT FALSE,
			paused_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE commission_rules (
			id BIGINT PRIMARY KEY,
			program_id BIGINT,
			level INTEGER NOT NULL,
			rate_percent DECIMAL(10,2) NOT NULL DEFAULT 0,
			active_from TIMESTAMP,
			active_to TIMESTAMP,
			cap_per_order DECIMAL(20,2),
			cap_per_user DECIMAL(20,2),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			num_levels INTEGER,
			deleted_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			buyer_user_id BIGINT NOT NULL,
			group_order_id BIGINT,
			affiliate_user_id BIGINT,
			program_id BIGINT,
			link_id BIGINT,
			status TEXT NOT NULL DEFAULT 'created',
			total_amount DECIMAL(20,2) NOT NULL DEFAULT 0,
			ip_address TEXT,
			paid_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE order_items (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL,
			product_name TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL DEFAULT 1,
			subtotal DECIMAL(20,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE group_orders (
			id BIGINT PRIMARY KEY,
			host_user_id BIGINT NOT NULL,
			affiliate_user_id BIGINT,
			program_id BIGINT,
			link_id BIGINT,
			status TEXT NOT NULL DEFAULT 'open',
			total_amount DECIMAL(20,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE group_order_members (
			id BIGINT PRIMARY KEY,
			group_order_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			referrer_user_id BIGINT,
			program_id BIGINT,
			link_id BIGINT,
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE commission_records (
			id BIGINT PRIMARY KEY,
			order_key BIGINT NOT NULL,
			order_id BIGINT,
			group_order_id BIGINT,
			order_item_id BIGINT NOT NULL DEFAULT 0,
			payer_user_id BIGINT NOT NULL,
			beneficiary_user_id BIGINT NOT NULL,
			level INTEGER NOT NULL,
			program_id BIGINT,
			link_id BIGINT,
			base_amount DECIMAL(20,2) NOT NULL DEFAULT 0,
			rate_percent DECIMAL(10,2) NOT NULL DEFAULT 0,
			amount DECIMAL(20,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			paid_at TIMESTAMP,
			reversed_amount DECIMAL(20,2),
			reversed_at TIMESTAMP,
			reversal_reason TEXT
		)`,
		`CREATE UNIQUE INDEX ux_commission_records_dedupe
			ON commission_records (order_key, order_item_id, level, beneficiary_user_id)`,
		`CREATE TABLE wallets (
			user_id BIGINT PRIMARY KEY,
			balance DECIMAL(20,2) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE wallet_transactions (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			direction TEXT NOT NULL,
			amount DECIMAL(20,2) NOT NULL,
			balance_after DECIMAL(20,2) NOT NULL,
			reference TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_wallet_transactions_credit_ref
			ON wallet_transactions (reference) WHERE direction = 'credit'`,
		`CREATE TABLE referral_links (
			id BIGINT PRIMARY KEY,
			affiliate_user_id BIGINT NOT NULL,
			program_id BIGINT,
			code TEXT NOT NULL UNIQUE,
			click_count BIGINT NOT NULL DEFAULT 0,
			conversion_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE link_clicks (
			id BIGINT PRIMARY KEY,
			link_id BIGINT NOT NULL,
			visitor_key TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE fraud_logs (
			id BIGINT PRIMARY KEY,
			type TEXT NOT NULL,
			affiliate_user_id BIGINT,
			order_id BIGINT,
			details TEXT NOT NULL DEFAULT '{}',
			ip_address TEXT,
			detected_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reviewed BOOLEAN NOT NULL DEFAULT FALSE,
			admin_action TEXT
		)`,
		`CREATE TABLE commission_events (
			id BIGINT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			dedupe_key TEXT UNIQUE,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			ip_address TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB, poster walletdomain.Poster) *Engine {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	clk := testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := metrics.New()
	outbox := events.NewOutbox(db, node)
	orderRepo := orderrepository.Provide()
	referralSvc := referralservice.NewService(referralservice.Params{DB: db, Log: log, GenID: node})
	ruleSvc := ruleservice.NewService(ruleservice.Params{DB: db, Log: log})
	budget := programservice.NewService(programservice.Params{DB: db, Log: log, Clock: clk})
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node})
	if poster == nil {
		poster = walletservice.NewService(walletservice.Params{DB: db, Log: log, GenID: node})
	}
	fraudGate := fraudservice.NewGate(fraudservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Metrics: m,
		Outbox: outbox, AuditSvc: auditSvc,
	})
	attrSvc := attributionservice.NewService(attributionservice.Params{
		DB: db, Log: log, GenID: node, OrderRepo: orderRepo, ReferralSvc: referralSvc,
	})
	return &Engine{
		db:          db,
		log:         log,
		genID:       node,
		clock:       clk,
		cfg:         config.Config{WalletMaxAttempts: 3, WalletBackoff: []time.Duration{0, 0, 0}},
		metrics:     m,
		outbox:      outbox,
		orderRepo:   orderRepo,
		referralSvc: referralSvc,
		ruleSvc:     ruleSvc,
		budget:      budget,
		wallet:      poster,
		fraud:       fraudGate,
		attribution: attrSvc,
	}
}

func seedStandaloneOrder(t *testing.T, db *gorm.DB, orderID, buyerID, affiliateID int64, programID *int64, subtotal string) {
	t.Helper()
	var program any
	if programID != nil {
		program = *programID
	}
	if err := db.Exec(
		`INSERT INTO orders (id, buyer_user_id, affiliate_user_id, program_id, status, total_amount)
		 VALUES (?, ?, ?, ?, 'paid', ?)`,
		orderID, buyerID, affiliateID, program, subtotal,
	).Error; err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO order_items (id, order_id, product_name, subtotal) VALUES (?, ?, 'widget', ?)`,
		orderID*10, orderID, subtotal,
	).Error; err != nil {
		t.Fatalf("insert item: %v", err)
	}
}

func seedRule(t *testing.T, db *gorm.DB, id int64, programID *int64, level int, rate string, capPerOrder *string, numLevels *int) {
	t.Helper()
	var program, orderCap, levels any
	if programID != nil {
		program = *programID
	}
	if capPerOrder != nil {
		orderCap = *capPerOrder
	}
	if numLevels != nil {
		levels = *numLevels
	}
	if err := db.Exec(
		`INSERT INTO commission_rules (id, program_id, level, rate_percent, cap_per_order, is_active, num_levels)
		 VALUES (?, ?, ?, ?, ?, TRUE, ?)`,
		id, program, level, rate, orderCap, levels,
	).Error; err != nil {
		t.Fatalf("insert rule: %v", err)
	}
}

func seedProgram(t *testing.T, db *gorm.DB, id int64, status, totalBudget string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO programs (id, name, status, total_budget) VALUES (?, 'launch', ?, ?)`,
		id, status, totalBudget,
	).Error; err != nil {
		t.Fatalf("insert program: %v", err)
	}
}

func recordRow(t *testing.T, db *gorm.DB, orderKey int64) (status, amount string, paid bool) {
	t.Helper()
	row := struct {
		Status string
		Amount string
		PaidAt *time.Time
	}{}
	err := db.Raw(
		`SELECT status, amount, paid_at FROM commission_records WHERE order_key = ?`, orderKey,
	).Scan(&row).Error
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	return row.Status, row.Amount, row.PaidAt != nil
}

func walletBalance(t *testing.T, db *gorm.DB, userID int64) string {
	t.Helper()
	var balance string
	if err := db.Raw(`SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return balance
}

func countRecords(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(`SELECT COUNT(*) FROM commission_records`).Scan(&n).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	return n
}

func TestHandleOrderPaid_BasicAllocation(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)
	ctx := context.Background()

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(ctx, 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Outcome != allocationdomain.OutcomeAllocated {
		t.Fatalf("outcome = %s, want allocated", result.Outcome)
	}
	if result.Created != 1 || result.Paid != 1 {
		t.Fatalf("created/paid = %d/%d, want 1/1", result.Created, result.Paid)
	}

	status, amount, hasPaidAt := recordRow(t, db, 1)
	if status != "PAID" {
		t.Fatalf("status = %s, want PAID", status)
	}
	if amount != "10000" && amount != "10000.00" {
		t.Fatalf("amount = %s, want 10000.00", amount)
	}
	if !hasPaidAt {
		t.Fatal("paid_at not set")
	}
	if got := walletBalance(t, db, 200); got != "10000" && got != "10000.00" {
		t.Fatalf("balance = %s, want 10000.00", got)
	}
}

func TestHandleOrderPaid_CapPerOrder(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	cap := "5000.00"
	seedRule(t, db, 1, nil, 0, "10.00", &cap, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("created = %d, want 1", result.Created)
	}
	_, amount, _ := recordRow(t, db, 1)
	if amount != "5000" && amount != "5000.00" {
		t.Fatalf("amount = %s, want 5000.00", amount)
	}
}

func TestHandleOrderPaid_Idempotent(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)
	ctx := context.Background()

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	if _, err := engine.HandleOrderPaid(ctx, 1); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	result, err := engine.HandleOrderPaid(ctx, 1)
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if result.Outcome != allocationdomain.OutcomeDuplicate {
		t.Fatalf("outcome = %s, want duplicate", result.Outcome)
	}
	if n := countRecords(t, db); n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}
}

func TestHandleOrderPaid_SelfCommission(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	// The buyer bought through their own link.
	seedStandaloneOrder(t, db, 1, 100, 100, nil, "100000.00")
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Outcome != allocationdomain.OutcomeSelfCommission {
		t.Fatalf("outcome = %s, want self_commission", result.Outcome)
	}
	if n := countRecords(t, db); n != 0 {
		t.Fatalf("records = %d, want 0", n)
	}
}

func TestHandleOrderPaid_InactiveProgram(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	programID := int64(9)
	seedProgram(t, db, programID, "inactive", "100000.00")
	seedStandaloneOrder(t, db, 1, 100, 200, &programID, "100000.00")
	seedRule(t, db, 1, &programID, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Outcome != allocationdomain.OutcomeProgramInactive {
		t.Fatalf("outcome = %s, want program_inactive", result.Outcome)
	}
	if n := countRecords(t, db); n != 0 {
		t.Fatalf("records = %d, want 0", n)
	}
}

func TestHandleOrderPaid_MultiLevel(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)
	ctx := context.Background()

	// Referral chain: 400 referred 300, 300 referred 200.
	for _, edge := range [][2]int64{{300, 200}, {400, 300}} {
		if err := db.Exec(
			`INSERT INTO referral_edges (id, referrer_id, referee_id) VALUES (?, ?, ?)`,
			edge[1], edge[0], edge[1],
		).Error; err != nil {
			t.Fatalf("insert edge: %v", err)
		}
	}

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	levels := 3
	seedRule(t, db, 1, nil, 0, "10.00", nil, &levels)
	seedRule(t, db, 2, nil, 1, "3.00", nil, nil)
	seedRule(t, db, 3, nil, 2, "1.00", nil, nil)

	result, err := engine.HandleOrderPaid(ctx, 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 3 || result.Paid != 3 {
		t.Fatalf("created/paid = %d/%d, want 3/3", result.Created, result.Paid)
	}

	rows := []struct {
		Level             int
		BeneficiaryUserID int64
		Amount            string
	}{}
	err = db.Raw(
		`SELECT level, beneficiary_user_id, amount FROM commission_records ORDER BY level`,
	).Scan(&rows).Error
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	want := []struct {
		level       int
		beneficiary int64
		amount      string
	}{
		{0, 200, "10000"},
		{1, 300, "3000"},
		{2, 400, "1000"},
	}
	for i, w := range want {
		if rows[i].Level != w.level || rows[i].BeneficiaryUserID != w.beneficiary {
			t.Fatalf("row %d = %+v, want level %d beneficiary %d", i, rows[i], w.level, w.beneficiary)
		}
		if rows[i].Amount != w.amount && rows[i].Amount != w.amount+".00" {
			t.Fatalf("row %d amount = %s, want %s", i, rows[i].Amount, w.amount)
		}
	}
}

func TestHandleOrderPaid_ShortAncestorChainStopsLevels(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	// Affiliate 200 has one ancestor but rules allow three levels.
	if err := db.Exec(
		`INSERT INTO referral_edges (id, referrer_id, referee_id) VALUES (1, 300, 200)`,
	).Error; err != nil {
		t.Fatalf("insert edge: %v", err)
	}
	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	levels := 3
	seedRule(t, db, 1, nil, 0, "10.00", nil, &levels)
	seedRule(t, db, 2, nil, 1, "3.00", nil, nil)
	seedRule(t, db, 3, nil, 2, "1.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 2 {
		t.Fatalf("created = %d, want 2", result.Created)
	}
}

func TestHandleOrderPaid_WalletFailureLeavesPending(t *testing.T) {
	db := setupAllocationTestDB(t)
	poster := &failingPoster{failures: 10}
	engine := newTestEngine(t, db, poster)

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 1 || result.Paid != 0 {
		t.Fatalf("created/paid = %d/%d, want 1/0", result.Created, result.Paid)
	}
	if poster.calls != 3 {
		t.Fatalf("wallet attempts = %d, want 3", poster.calls)
	}

	status, _, _ := recordRow(t, db, 1)
	if status != "PENDING" {
		t.Fatalf("status = %s, want PENDING", status)
	}
}

func TestHandleOrderPaid_WalletRecoversOnRetry(t *testing.T) {
	db := setupAllocationTestDB(t)
	inner := walletservice.NewService(walletservice.Params{DB: db, Log: zap.NewNop(), GenID: mustNode(t)})
	poster := &failingPoster{inner: inner, failures: 2}
	engine := newTestEngine(t, db, poster)

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Paid != 1 {
		t.Fatalf("paid = %d, want 1", result.Paid)
	}
	status, _, _ := recordRow(t, db, 1)
	if status != "PAID" {
		t.Fatalf("status = %s, want PAID", status)
	}
}

func TestSettlePendingDuplicateDoesNotDoublePay(t *testing.T) {
	db := setupAllocationTestDB(t)
	inner := walletservice.NewService(walletservice.Params{DB: db, Log: zap.NewNop(), GenID: mustNode(t)})
	poster := &failingPoster{inner: inner, failures: 3}
	engine := newTestEngine(t, db, poster)
	ctx := context.Background()

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(ctx, 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 1 || result.Paid != 0 {
		t.Fatalf("created/paid = %d/%d, want 1/0", result.Created, result.Paid)
	}

	// The sweep and a still-running in-line retry can both observe
	// the record PENDING; each settles a snapshot of that state.
	var rec allocationdomain.CommissionRecord
	if err := db.Where("order_key = ?", 1).Take(&rec).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	first, second := rec, rec
	if err := engine.SettlePending(ctx, db, &first); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := engine.SettlePending(ctx, db, &second); err != nil {
		t.Fatalf("second settle: %v", err)
	}

	if balance := walletBalance(t, db, 200); balance != "10000" && balance != "10000.00" {
		t.Fatalf("balance = %s, want 10000.00", balance)
	}
	var credits int64
	if err := db.Raw(
		`SELECT COUNT(1) FROM wallet_transactions WHERE direction = 'credit'`,
	).Scan(&credits).Error; err != nil {
		t.Fatalf("count credits: %v", err)
	}
	if credits != 1 {
		t.Fatalf("expected 1 credit, got %d", credits)
	}
	status, _, _ := recordRow(t, db, 1)
	if status != "PAID" {
		t.Fatalf("status = %s, want PAID", status)
	}
}

func TestHandleOrderPaid_BuyerInUplineIsSkipped(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)
	ctx := context.Background()

	// Buyer 100 enrolled affiliate 200; 100 then buys through 200,
	// so the level-1 walk loops back to the purchaser.
	if err := db.Exec(
		`INSERT INTO referral_edges (id, referrer_id, referee_id) VALUES (1, 100, 200)`,
	).Error; err != nil {
		t.Fatalf("insert edge: %v", err)
	}

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")
	levels := 2
	seedRule(t, db, 1, nil, 0, "10.00", nil, &levels)
	seedRule(t, db, 2, nil, 1, "3.00", nil, nil)

	result, err := engine.HandleOrderPaid(ctx, 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 1 || result.Paid != 1 {
		t.Fatalf("created/paid = %d/%d, want 1/1", result.Created, result.Paid)
	}

	var selfPaid int64
	if err := db.Raw(
		`SELECT COUNT(1) FROM commission_records WHERE beneficiary_user_id = payer_user_id`,
	).Scan(&selfPaid).Error; err != nil {
		t.Fatalf("count self-paid: %v", err)
	}
	if selfPaid != 0 {
		t.Fatalf("expected no record paying the purchaser, got %d", selfPaid)
	}

	var beneficiary int64
	if err := db.Raw(
		`SELECT beneficiary_user_id FROM commission_records WHERE order_key = 1`,
	).Scan(&beneficiary).Error; err != nil {
		t.Fatalf("read beneficiary: %v", err)
	}
	if beneficiary != 200 {
		t.Fatalf("beneficiary = %d, want 200", beneficiary)
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func TestHandleOrderPaid_BudgetReservationAndCommit(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	programID := int64(9)
	seedProgram(t, db, programID, "active", "50000.00")
	seedStandaloneOrder(t, db, 1, 100, 200, &programID, "100000.00")
	seedRule(t, db, 1, &programID, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Paid != 1 {
		t.Fatalf("paid = %d, want 1", result.Paid)
	}

	row := struct {
		SpentBudget   string
		PendingBudget string
	}{}
	if err := db.Raw(
		`SELECT spent_budget, pending_budget FROM programs WHERE id = ?`, programID,
	).Scan(&row).Error; err != nil {
		t.Fatalf("read program: %v", err)
	}
	if row.SpentBudget != "10000" && row.SpentBudget != "10000.00" {
		t.Fatalf("spent = %s, want 10000.00", row.SpentBudget)
	}
	if row.PendingBudget != "0" && row.PendingBudget != "0.00" {
		t.Fatalf("pending = %s, want 0", row.PendingBudget)
	}
}

func TestHandleOrderPaid_BudgetExhaustedSkipsLevel(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	programID := int64(9)
	seedProgram(t, db, programID, "active", "1000.00")
	seedStandaloneOrder(t, db, 1, 100, 200, &programID, "100000.00")
	seedRule(t, db, 1, &programID, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Outcome != allocationdomain.OutcomeNothingEarned {
		t.Fatalf("outcome = %s, want nothing_earned", result.Outcome)
	}
	if n := countRecords(t, db); n != 0 {
		t.Fatalf("records = %d, want 0", n)
	}
}

func TestHandleOrderPaid_NoRule(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	seedStandaloneOrder(t, db, 1, 100, 200, nil, "100000.00")

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Outcome != allocationdomain.OutcomeNothingEarned {
		t.Fatalf("outcome = %s, want nothing_earned", result.Outcome)
	}
}

func TestHandleOrderPaid_NoAttribution(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	if err := db.Exec(
		`INSERT INTO orders (id, buyer_user_id, status, total_amount) VALUES (1, 100, 'paid', '500.00')`,
	).Error; err != nil {
		t.Fatalf("insert order: %v", err)
	}

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Outcome != allocationdomain.OutcomeNoAttribution {
		t.Fatalf("outcome = %s, want no_attribution", result.Outcome)
	}
}

func TestHandleOrderPaid_OrderNotFound(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	_, err := engine.HandleOrderPaid(context.Background(), 404)
	if !errors.Is(err, allocationdomain.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestHandleOrderPaid_GroupOrder(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)
	ctx := context.Background()

	for _, id := range []int64{100, 101, 600, 700} {
		if err := db.Exec(`INSERT INTO users (id) VALUES (?)`, id).Error; err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	if err := db.Exec(
		`INSERT INTO group_orders (id, host_user_id, affiliate_user_id, status, total_amount)
		 VALUES (10, 600, 600, 'completed', '50000.00')`,
	).Error; err != nil {
		t.Fatalf("insert group: %v", err)
	}
	// The triggering buyer has their own referrer; member-specific
	// attribution wins over the group host.
	for _, m := range []struct {
		id, user int64
		referrer any
	}{{11, 100, int64(700)}, {12, 101, nil}} {
		if err := db.Exec(
			`INSERT INTO group_order_members (id, group_order_id, user_id, referrer_user_id) VALUES (?, 10, ?, ?)`,
			m.id, m.user, m.referrer,
		).Error; err != nil {
			t.Fatalf("insert member: %v", err)
		}
	}
	if err := db.Exec(
		`INSERT INTO orders (id, buyer_user_id, group_order_id, status, total_amount) VALUES (1, 100, 10, 'paid', '20000.00')`,
	).Error; err != nil {
		t.Fatalf("insert order: %v", err)
	}
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(ctx, 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 1 || result.Paid != 1 {
		t.Fatalf("created/paid = %d/%d, want 1/1", result.Created, result.Paid)
	}

	row := struct {
		OrderKey          int64
		OrderItemID       int64
		BeneficiaryUserID int64
		BaseAmount        string
	}{}
	if err := db.Raw(
		`SELECT order_key, order_item_id, beneficiary_user_id, base_amount FROM commission_records`,
	).Scan(&row).Error; err != nil {
		t.Fatalf("read record: %v", err)
	}
	if row.OrderKey != 10 {
		t.Fatalf("order_key = %d, want group id 10", row.OrderKey)
	}
	if row.OrderItemID != 0 {
		t.Fatalf("order_item_id = %d, want synthetic 0", row.OrderItemID)
	}
	if row.BeneficiaryUserID != 700 {
		t.Fatalf("beneficiary = %d, want member-specific referrer 700", row.BeneficiaryUserID)
	}
	if row.BaseAmount != "50000" && row.BaseAmount != "50000.00" {
		t.Fatalf("base = %s, want group total 50000.00", row.BaseAmount)
	}

	// Orphan member 101 now hangs under the member-specific affiliate.
	var referrer int64
	if err := db.Raw(`SELECT referrer_id FROM referral_edges WHERE referee_id = 101`).Scan(&referrer).Error; err != nil {
		t.Fatalf("read edge: %v", err)
	}
	if referrer != 700 {
		t.Fatalf("orphan referrer = %d, want 700", referrer)
	}
}

func TestHandleOrderPaid_MultipleItems(t *testing.T) {
	db := setupAllocationTestDB(t)
	engine := newTestEngine(t, db, nil)

	if err := db.Exec(
		`INSERT INTO orders (id, buyer_user_id, affiliate_user_id, status, total_amount) VALUES (1, 100, 200, 'paid', '3000.00')`,
	).Error; err != nil {
		t.Fatalf("insert order: %v", err)
	}
	for i, subtotal := range []string{"1000.00", "2000.00"} {
		if err := db.Exec(
			`INSERT INTO order_items (id, order_id, subtotal) VALUES (?, 1, ?)`, i+1, subtotal,
		).Error; err != nil {
			t.Fatalf("insert item: %v", err)
		}
	}
	seedRule(t, db, 1, nil, 0, "10.00", nil, nil)

	result, err := engine.HandleOrderPaid(context.Background(), 1)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Created != 2 || result.Paid != 2 {
		t.Fatalf("created/paid = %d/%d, want 2/2", result.Created, result.Paid)
	}
	if got := walletBalance(t, db, 200); got != "300" && got != "300.00" {
		t.Fatalf("balance = %s, want 300.00", got)
	}
}

func TestComputeCommission(t *testing.T) {
	cases := []struct {
		base string
		rate string
		cap  *string
		want string
	}{
		{"100000", "10", nil, "10000"},
		{"333.33", "10", nil, "33.33"},
		{"333.35", "10", nil, "33.34"}, // half-up
		{"100000", "10", strPtr("5000"), "5000"},
		{"100", "0", nil, "0"},
	}
	for _, c := range cases {
		base := decimal.RequireFromString(c.base)
		rate := decimal.RequireFromString(c.rate)
		var orderCap *decimal.Decimal
		if c.cap != nil {
			v := decimal.RequireFromString(*c.cap)
			orderCap = &v
		}
		got := computeCommission(base, rate, orderCap)
		if !got.Equal(decimal.RequireFromString(c.want)) {
			t.Fatalf("computeCommission(%s, %s) = %s, want %s", c.base, c.rate, got, c.want)
		}
	}
}

func strPtr(s string) *string { return &s }
