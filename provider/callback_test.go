package provider

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopayments/payflow/infra/store"
)

func newCallbackReconciler(t *testing.T) (*CallbackReconciler, *store.SQLiteStore) {
	t.Helper()
	transactions, err := store.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { transactions.Close() })

	reconciler := NewCallbackReconciler(transactions, CallbackURLs{
		Success: "https://shop.example/payment/success",
		Error:   "https://shop.example/payment/error",
		Cancel:  "https://shop.example/payment/cancel",
	})
	return reconciler, transactions
}

func redirectQuery(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query()
}

func TestCallbackMarksMatchedTransaction(t *testing.T) {
	reconciler, transactions := newCallbackReconciler(t)
	ctx := context.Background()

	pending := &store.Transaction{Driver: "myfatoorah", Action: "pay", TransactionID: "inv-1", Status: store.StatusPending}
	require.NoError(t, transactions.Create(ctx, pending))

	result := reconciler.Handle(ctx, "myfatoorah", "success", map[string]any{"paymentId": "inv-1"})
	require.NotNil(t, result.Transaction)
	assert.Equal(t, pending.ID, result.Transaction.ID)
	assert.Equal(t, store.StatusSuccess, result.Transaction.Status)

	loaded, err := transactions.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, loaded.Status)
}

func TestCallbackNonSuccessStatusesMarkFailed(t *testing.T) {
	for _, status := range []string{"error", "cancel"} {
		t.Run(status, func(t *testing.T) {
			reconciler, transactions := newCallbackReconciler(t)
			ctx := context.Background()

			pending := &store.Transaction{Driver: "stripe", Action: "pay", TransactionID: "pi_x", Status: store.StatusPending}
			require.NoError(t, transactions.Create(ctx, pending))

			result := reconciler.Handle(ctx, "stripe", status, map[string]any{"id": "pi_x"})
			require.NotNil(t, result.Transaction)
			assert.Equal(t, store.StatusFailed, result.Transaction.Status)
		})
	}
}

func TestCallbackCreatesWhenUnmatched(t *testing.T) {
	reconciler, transactions := newCallbackReconciler(t)
	ctx := context.Background()

	result := reconciler.Handle(ctx, "paymob", "success", map[string]any{"id": "tx-new", "order": "55"})
	require.NotNil(t, result.Transaction)
	assert.Equal(t, "pay", result.Transaction.Action)
	assert.Equal(t, store.StatusSuccess, result.Transaction.Status)

	txn, err := transactions.FindLatest(ctx, "paymob", "tx-new")
	require.NoError(t, err)
	assert.Equal(t, "tx-new", txn.TransactionID)
	assert.Equal(t, "55", txn.RequestPayload["order"])
}

func TestCallbackDoesNotRegressSuccess(t *testing.T) {
	reconciler, transactions := newCallbackReconciler(t)
	ctx := context.Background()

	done := &store.Transaction{Driver: "stripe", Action: "pay", TransactionID: "pi_done", Status: store.StatusSuccess}
	require.NoError(t, transactions.Create(ctx, done))

	result := reconciler.Handle(ctx, "stripe", "error", map[string]any{"id": "pi_done"})
	require.NotNil(t, result.Transaction)
	assert.Equal(t, store.StatusSuccess, result.Transaction.Status)
}

func TestCallbackRedirects(t *testing.T) {
	t.Run("default urls per outcome", func(t *testing.T) {
		reconciler, _ := newCallbackReconciler(t)
		ctx := context.Background()

		result := reconciler.Handle(ctx, "stripe", "success", map[string]any{"id": "a1"})
		assert.Contains(t, result.RedirectURL, "https://shop.example/payment/success")

		result = reconciler.Handle(ctx, "stripe", "error", map[string]any{"id": "a2"})
		assert.Contains(t, result.RedirectURL, "https://shop.example/payment/error")

		result = reconciler.Handle(ctx, "stripe", "cancel", map[string]any{"id": "a3"})
		assert.Contains(t, result.RedirectURL, "https://shop.example/payment/cancel")
	})

	t.Run("metadata url wins and substitutes payable id", func(t *testing.T) {
		reconciler, transactions := newCallbackReconciler(t)
		ctx := context.Background()

		pending := &store.Transaction{
			Driver:        "stripe",
			Action:        "pay",
			TransactionID: "pi_meta",
			Status:        store.StatusPending,
			PayableID:     "order-12",
			Metadata:      store.JSONMap{"success_url": "https://merchant.example/orders/{id}/thanks"},
		}
		require.NoError(t, transactions.Create(ctx, pending))

		result := reconciler.Handle(ctx, "stripe", "success", map[string]any{"id": "pi_meta"})
		assert.Contains(t, result.RedirectURL, "https://merchant.example/orders/order-12/thanks")
	})

	t.Run("outcome parameters appended", func(t *testing.T) {
		reconciler, transactions := newCallbackReconciler(t)
		ctx := context.Background()

		pending := &store.Transaction{
			Driver:        "stripe",
			Action:        "pay",
			TransactionID: "pi_q",
			ReferenceID:   "ref-3",
			Status:        store.StatusPending,
			PayableType:   "order",
			PayableID:     "7",
		}
		require.NoError(t, transactions.Create(ctx, pending))

		result := reconciler.Handle(ctx, "stripe", "success", map[string]any{"id": "pi_q"})
		q := redirectQuery(t, result.RedirectURL)
		assert.Equal(t, "pi_q", q.Get("transaction_id"))
		assert.Equal(t, "ref-3", q.Get("reference_id"))
		assert.Equal(t, "success", q.Get("status"))
		assert.Equal(t, "stripe", q.Get("driver"))
		assert.Equal(t, "order", q.Get("payable_type"))
		assert.Equal(t, "7", q.Get("payable_id"))
	})
}

func TestRegresses(t *testing.T) {
	assert.False(t, regresses(store.StatusPending, store.StatusFailed, true))
	assert.False(t, regresses(store.StatusFailed, store.StatusSuccess, true))
	assert.True(t, regresses(store.StatusSuccess, store.StatusFailed, true))
	assert.True(t, regresses(store.StatusRefunded, store.StatusPending, true))
	assert.False(t, regresses(store.StatusSuccess, store.StatusRefunded, true))
	assert.False(t, regresses(store.StatusSuccess, store.StatusFailed, false))
}
