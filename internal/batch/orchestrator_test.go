package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/entity"
	"github.com/ntrivedi/adviceparser/internal/extract"
	"github.com/ntrivedi/adviceparser/internal/parser"
	"github.com/ntrivedi/adviceparser/internal/pipeline"
	"github.com/ntrivedi/adviceparser/internal/store"
)

// stubExtractor passes document bytes through as text, and hangs on refs
// marked slow until the per-item context expires.
type stubExtractor struct {
	mu   sync.Mutex
	slow map[string]bool
}

func (e *stubExtractor) setSlow(ref string, v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slow[ref] = v
}

func (e *stubExtractor) Extract(ctx context.Context, doc extract.Document) (extract.Result, error) {
	e.mu.Lock()
	hang := e.slow[doc.Ref]
	e.mu.Unlock()
	if hang {
		<-ctx.Done()
		return extract.Result{}, ctx.Err()
	}
	return extract.Result{Text: string(doc.Data), Format: constants.TXT, Method: "passthrough"}, nil
}

type fixture struct {
	orch  *Orchestrator
	store store.Store
	ext   *stubExtractor
	docs  map[string][]byte
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	st, err := store.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ext := &stubExtractor{slow: map[string]bool{}}
	pipe := pipeline.New(ext, parser.NewRegistry(nil), st, pipeline.Options{}, nil)

	docs := map[string][]byte{}
	loader := LoaderFunc(func(_ context.Context, ref string) (extract.Document, error) {
		if data, ok := docs[ref]; ok {
			return extract.Document{Ref: ref, Data: data}, nil
		}
		data, err := os.ReadFile(ref)
		if err != nil {
			return extract.Document{}, err
		}
		return extract.Document{Ref: ref, Data: data}, nil
	})

	orch := New(pipe, st,
		WithWorkers(2),
		WithQueueSize(16),
		WithItemTimeout(timeout),
		WithLoader(loader),
	)
	orch.Start(context.Background())
	t.Cleanup(orch.Shutdown)

	return &fixture{orch: orch, store: st, ext: ext, docs: docs}
}

func (f *fixture) waitTerminal(t *testing.T, batchID uuid.UUID) *entity.BatchStatusSummary {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sum, err := f.orch.GetStatus(context.Background(), batchID)
		require.NoError(t, err)
		switch sum.Status {
		case constants.BatchCompleted, constants.BatchPartial, constants.BatchFailed:
			return sum
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s did not reach a terminal status", batchID)
	return nil
}

func adviceText(utr string) []byte {
	return []byte("Payment advice\nUTR: " + utr + "\nAmount: 1,000.00\n")
}

func TestBatchTimeoutYieldsPartial(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	ctx := context.Background()

	f.docs["doc1"] = adviceText("UTRTEST0001")
	f.docs["doc2"] = adviceText("UTRTEST0002")
	f.docs["doc3"] = adviceText("UTRTEST0003")
	f.ext.setSlow("doc2", true)

	job, err := f.orch.Submit(ctx, "", []entity.BatchItem{
		{DocumentRef: "doc1"}, {DocumentRef: "doc2"}, {DocumentRef: "doc3"},
	})
	require.NoError(t, err)

	sum := f.waitTerminal(t, job.ID)
	assert.Equal(t, constants.BatchPartial, sum.Status)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	got, err := f.orch.GetBatch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ItemSuccess, got.Items[0].Status)
	assert.Equal(t, constants.ItemFailed, got.Items[1].Status)
	assert.Equal(t, constants.ItemSuccess, got.Items[2].Status)
	assert.Contains(t, got.Items[1].ErrorMessage, "timeout",
		"timed-out item records a timeout message, got %q", got.Items[1].ErrorMessage)
}

func TestReprocessFailedOnlyRetriesFailedItems(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	ctx := context.Background()

	f.docs["doc1"] = adviceText("UTRRETRY001")
	f.docs["doc2"] = adviceText("UTRRETRY002")
	f.docs["doc3"] = adviceText("UTRRETRY003")
	f.ext.setSlow("doc2", true)

	job, err := f.orch.Submit(ctx, "", []entity.BatchItem{
		{DocumentRef: "doc1"}, {DocumentRef: "doc2"}, {DocumentRef: "doc3"},
	})
	require.NoError(t, err)
	require.Equal(t, constants.BatchPartial, f.waitTerminal(t, job.ID).Status)

	before, err := f.orch.GetBatch(ctx, job.ID)
	require.NoError(t, err)
	advice1 := before.Items[0].AdviceID
	advice3 := before.Items[2].AdviceID
	require.NotNil(t, advice1)
	require.NotNil(t, advice3)

	// The underlying condition clears; the retry should now succeed.
	f.ext.setSlow("doc2", false)

	_, err = f.orch.ReprocessFailed(ctx, job.ID)
	require.NoError(t, err)

	sum := f.waitTerminal(t, job.ID)
	assert.Equal(t, constants.BatchCompleted, sum.Status)
	assert.Equal(t, 3, sum.Succeeded)

	after, err := f.orch.GetBatch(ctx, job.ID)
	require.NoError(t, err)
	// Succeeded items were not re-dispatched: same record references.
	assert.Equal(t, *advice1, *after.Items[0].AdviceID)
	assert.Equal(t, *advice3, *after.Items[2].AdviceID)
	require.NotNil(t, after.Items[1].AdviceID)
}

func TestReprocessWithNoFailedItems(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	f.docs["doc1"] = adviceText("UTRNONE0001")
	job, err := f.orch.Submit(ctx, "", []entity.BatchItem{{DocumentRef: "doc1"}})
	require.NoError(t, err)
	require.Equal(t, constants.BatchCompleted, f.waitTerminal(t, job.ID).Status)

	_, err = f.orch.ReprocessFailed(ctx, job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no failed items")

	sum, err := f.orch.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchCompleted, sum.Status)
}

func TestDuplicateUTRAcrossBatchItems(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	// Two documents carrying the same UTR: exactly one may persist.
	f.docs["dup1"] = adviceText("UTRSAME9999")
	f.docs["dup2"] = adviceText("UTRSAME9999")

	job, err := f.orch.Submit(ctx, "", []entity.BatchItem{
		{DocumentRef: "dup1"}, {DocumentRef: "dup2"},
	})
	require.NoError(t, err)

	sum := f.waitTerminal(t, job.ID)
	assert.Equal(t, constants.BatchPartial, sum.Status)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	got, err := f.orch.GetBatch(ctx, job.ID)
	require.NoError(t, err)
	var failMsg string
	for _, item := range got.Items {
		if item.Status == constants.ItemFailed {
			failMsg = item.ErrorMessage
		}
	}
	assert.True(t, strings.Contains(failMsg, "duplicate"), "failure is attributed to the duplicate key, got %q", failMsg)
}

func TestSubmitDirSkipsUnsupportedFiles(t *testing.T) {
	f := newFixture(t, time.Second)
	dir := t.TempDir()

	writeFile(t, dir, "one.txt", adviceText("UTRDIR00001"))
	writeFile(t, dir, "ignore.docx", []byte("not supported"))
	writeFile(t, dir, "two.txt", adviceText("UTRDIR00002"))

	job, err := f.orch.SubmitDir(context.Background(), "", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, job.TotalCount)

	sum := f.waitTerminal(t, job.ID)
	assert.Equal(t, constants.BatchCompleted, sum.Status)
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestSubmitDirEmpty(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.orch.SubmitDir(context.Background(), "", t.TempDir())
	require.Error(t, err)
}
