package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/ranker"
)

var benchTerms = []string{"distributed", "search", "analytics", "platform", "indexing", "query", "engine", "ranking"}

func benchIndex(b *testing.B, n int) *index.Index {
	b.Helper()
	docs := make([]index.Document, n)
	for i := range docs {
		docs[i] = index.Document{
			ID: fmt.Sprintf("doc-%d", i),
			Fields: map[string]any{
				"title": fmt.Sprintf("document about %s and %s", benchTerms[i%len(benchTerms)], benchTerms[(i+1)%len(benchTerms)]),
				"text": fmt.Sprintf("this document covers %s %s %s in production systems",
					benchTerms[i%len(benchTerms)], benchTerms[(i+2)%len(benchTerms)], benchTerms[(i+3)%len(benchTerms)]),
			},
		}
	}
	s := schema.MustNew(schema.Default(), schema.Options{})
	ix, _, err := index.Build(context.Background(), s, index.Docs(docs...), index.BuildOptions{})
	if err != nil {
		b.Fatal(err)
	}
	return ix
}

func benchQueries(b *testing.B, ix *index.Index) []*parser.Query {
	b.Helper()
	var queries []*parser.Query
	for i := range benchTerms {
		text := benchTerms[i] + " " + benchTerms[(i+2)%len(benchTerms)]
		q, err := parser.Parse(ix.Schema(), text, fields, 0.9)
		if err != nil {
			b.Fatal(err)
		}
		queries = append(queries, q)
	}
	return queries
}

func BenchmarkExecute(b *testing.B) {
	ix := benchIndex(b, 10000)
	queries := benchQueries(b, ix)
	exec := New(ranker.DefaultParams())
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.Execute(ctx, ix, queries[i%len(queries)], 10); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExecuteParallel(b *testing.B) {
	ix := benchIndex(b, 10000)
	queries := benchQueries(b, ix)
	exec := New(ranker.DefaultParams())
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := exec.Execute(ctx, ix, queries[i%len(queries)], 10); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}
