// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"context"
	"testing"

	"github.com/suprsokr/mpqx/internal/mpqtest"
)

func benchChain(b *testing.B, archives, files int) *PatchChain {
	b.Helper()

	var chain []*Archive
	for i := 0; i < archives; i++ {
		builder := mpqtest.New()
		for j := 0; j < files; j++ {
			content := []byte("test content " + string(rune('0'+i)) + string(rune('a'+j)))
			builder.Add("Data\\File_"+string(rune('a'+j))+".txt", content, mpqtest.FileOptions{Compress: true})
		}
		chain = append(chain, buildArchive(b, builder))
	}
	return NewPatchChain(chain...)
}

// BenchmarkPatchChainLookup benchmarks file lookup performance with cache
func BenchmarkPatchChainLookup(b *testing.B) {
	chain := benchChain(b, 5, 20)
	defer chain.Close()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		chain.HasFile("Data\\File_a.txt")
		chain.HasFile("Data\\File_j.txt")
		chain.HasFile("Data\\File_t.txt")
		chain.HasFile("Data\\NonExistent.txt")
	}
}

// BenchmarkPatchChainExtract benchmarks file extraction with cache
func BenchmarkPatchChainExtract(b *testing.B) {
	chain := benchChain(b, 3, 10)
	defer chain.Close()
	ctx := context.Background()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := chain.ExtractFile(ctx, "Data\\File_a.txt"); err != nil {
			b.Fatal(err)
		}
	}
}
