// Package loopback fabricates deterministic lesson documents without calling
// any external model. It backs tests and keyless local runs.
package loopback

import (
	"context"
	"fmt"
	"strings"

	"github.com/modulpintar/modulpintar-server/internal/generator"
)

// Ensure Engine implements both generator contracts.
var _ generator.Generator = (*Engine)(nil)
var _ generator.StreamingGenerator = (*Engine)(nil)

// Engine renders a fixed-shape Modul Ajar from the lesson spec alone.
type Engine struct{}

// New creates an Engine instance.
func New() *Engine {
	return &Engine{}
}

// Name identifies the backend in logs and audit entries.
func (e *Engine) Name() string { return "loopback" }

// Generate renders the whole document in one call.
func (e *Engine) Generate(ctx context.Context, spec generator.LessonSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	return strings.Join(e.sections(spec), ""), nil
}

// GenerateStream emits the document section by section.
func (e *Engine) GenerateStream(ctx context.Context, spec generator.LessonSpec) (<-chan generator.Chunk, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	out := make(chan generator.Chunk, 4)
	go func() {
		defer close(out)
		for _, section := range e.sections(spec) {
			select {
			case <-ctx.Done():
				out <- generator.Chunk{Err: ctx.Err()}
				return
			case out <- generator.Chunk{Text: section}:
			}
		}
	}()
	return out, nil
}

func (e *Engine) sections(spec generator.LessonSpec) []string {
	sections := []string{
		fmt.Sprintf("# Modul Ajar: %s\n\n", spec.Topic),
		fmt.Sprintf("## Informasi Umum\n\nMata pelajaran: %s\nKelas: %s\nJumlah pertemuan: %d\n\n", spec.Subject, spec.Grade, spec.Sessions),
		fmt.Sprintf("## Komponen Inti\n\nTujuan pembelajaran: peserta didik memahami %s.\n\n", spec.Topic),
	}
	for i := 1; i <= spec.Sessions; i++ {
		sections = append(sections, fmt.Sprintf("## Pertemuan %d\n\nPendahuluan, kegiatan inti, dan penutup untuk pertemuan %d.\n\n", i, i))
	}
	sections = append(sections, "## Asesmen\n\nAsesmen diagnostik, formatif, dan sumatif.\n")
	return sections
}
