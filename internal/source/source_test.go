package source_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/source"
)

func TestStaticRecordSource(t *testing.T) {
	src := source.NewStaticRecordSource()
	src.Add("A",
		domain.SourceRecord{Table: "pages", UID: 1, PageID: 1},
		domain.SourceRecord{Table: "pages", UID: 2, PageID: 2},
		domain.SourceRecord{Table: "tx_news", UID: 7, PageID: 12},
	)
	src.Add("B", domain.SourceRecord{Table: "pages", UID: 9, PageID: 9})

	pages, err := src.Records(context.Background(), "A", domain.IndexingConfiguration{Name: "pages", Table: "pages"})
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	news, err := src.Records(context.Background(), "A", domain.IndexingConfiguration{Name: "news", Table: "tx_news"})
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, int64(12), news[0].PageID)

	none, err := src.Records(context.Background(), "C", domain.IndexingConfiguration{Name: "pages", Table: "pages"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
