package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/clock/system"
	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/hash/sha256"
	memorypublisher "github.com/JakeFAU/article-harvester/internal/publisher/memory"
	"github.com/JakeFAU/article-harvester/internal/storage"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "plain", title: "2024年一季度经济运行情况", want: "2024年一季度经济运行情况"},
		{name: "illegal characters", title: `a\b/c:d*e?f"g<h>i|j`, want: "a_b_c_d_e_f_g_h_i_j"},
		{name: "trims whitespace", title: "  标题  ", want: "标题"},
		{name: "empty", title: "", want: "untitled"},
		{name: "only spaces", title: "   ", want: "untitled"},
		{name: "control characters", title: "a\tb\nc", want: "a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, storage.SanitizeFilename(tt.title))
		})
	}
}

func TestSanitizeFilenameTruncatesRunes(t *testing.T) {
	t.Parallel()

	got := storage.SanitizeFilename(strings.Repeat("统", 120))
	assert.Equal(t, 80, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestRecordFilenameIsIdempotent(t *testing.T) {
	t.Parallel()

	titles := []string{"A/B", "同名", "同名", ""}
	first := make([]string, len(titles))
	for i, title := range titles {
		first[i] = storage.RecordFilename(i+1, title, "txt")
	}
	for i, title := range titles {
		assert.Equal(t, first[i], storage.RecordFilename(i+1, title, ".txt"))
	}
	assert.Equal(t, []string{"01_A_B.txt", "02_同名.txt", "03_同名.txt", "04_untitled.txt"}, first)
	assert.Equal(t, "120_x.json", storage.RecordFilename(120, "x", "json"))
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Save(ctx context.Context, seq int, record crawler.ArticleRecord) error {
	args := m.Called(ctx, seq, record)
	return args.Error(0)
}

type finishingSink struct {
	mockSink
	summaries []crawler.Summary
	err       error
}

func (f *finishingSink) Finish(_ context.Context, summary crawler.Summary) error {
	f.summaries = append(f.summaries, summary)
	return f.err
}

func TestFanoutSaveContinuesPastFailures(t *testing.T) {
	t.Parallel()

	rec := crawler.ArticleRecord{URL: "https://e.com/1.html", Title: "t"}
	first := &mockSink{}
	first.On("Save", mock.Anything, 1, rec).Return(errors.New("bucket gone"))
	second := &mockSink{}
	second.On("Save", mock.Anything, 1, rec).Return(nil)

	err := storage.Fanout{first, nil, second}.Save(context.Background(), 1, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestFanoutFinishOnlyCallsFinishers(t *testing.T) {
	t.Parallel()

	plain := &mockSink{}
	ok := &finishingSink{}
	broken := &finishingSink{err: errors.New("write aggregate")}
	summary := crawler.Summary{Submitted: 3, Succeeded: 2, Failed: 1}

	err := storage.Fanout{plain, ok, broken}.Finish(context.Background(), summary)
	require.ErrorContains(t, err, "write aggregate")
	assert.Equal(t, []crawler.Summary{summary}, ok.summaries)
	assert.Len(t, broken.summaries, 1)
}

func TestNotifySinkPublishesArticleSaved(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	now := time.Date(2024, 4, 16, 10, 0, 0, 0, time.UTC)
	sink, err := storage.NewNotifySink(pub, sha256.New(), system.Fixed(now), "articles", "run-1")
	require.NoError(t, err)

	rec := crawler.ArticleRecord{URL: "https://e.com/7.html", Title: "标题", PublishTime: "2024-04-16", Content: "hello world"}
	require.NoError(t, sink.Save(context.Background(), 7, rec))
	require.NoError(t, sink.Finish(context.Background(), crawler.Summary{Submitted: 1, Succeeded: 1}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "articles", msgs[0].Topic)
	assert.Equal(t, storage.ArticleSaved{
		RunID:       "run-1",
		Seq:         7,
		URL:         rec.URL,
		Title:       rec.Title,
		PublishTime: rec.PublishTime,
		ContentHash: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		SavedAt:     now,
	}, msgs[0].Payload)
	done, ok := msgs[1].Payload.(storage.BatchCompleted)
	require.True(t, ok)
	assert.Equal(t, 1, done.Succeeded)
}

func TestNewNotifySinkRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := storage.NewNotifySink(nil, sha256.New(), system.Fixed{}, "t", "r")
	assert.Error(t, err)
}
