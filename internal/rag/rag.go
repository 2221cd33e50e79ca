package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"kb-rag/internal/config"
	"kb-rag/internal/models"
	"kb-rag/internal/retriever"
	"kb-rag/internal/retrypolicy"
)

// Generator is the text-generation collaborator. llmservice provides the
// real implementation; tests inject fakes.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// SynthesisError reports that the generation service exhausted its retries or
// kept returning degenerate output.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("answer synthesis failed: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// RAG answers questions against the knowledge base: retrieve, assemble,
// synthesize. Each call is self-contained; the only shared state is the
// vector store behind the retriever.
type RAG struct {
	retriever *retriever.Retriever
	generator Generator
	cfg       config.RAGConfig
	policy    retrypolicy.Policy
}

func New(r *retriever.Retriever, g Generator, cfg config.RAGConfig, policy retrypolicy.Policy) *RAG {
	return &RAG{retriever: r, generator: g, cfg: cfg, policy: policy}
}

// Query runs the full pipeline for one question. k <= 0 falls back to the
// configured top-k.
func (r *RAG) Query(ctx context.Context, query string, k int) (*models.Answer, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}
	retrieved, err := r.retriever.Retrieve(ctx, query, k, nil)
	if err != nil {
		return nil, err
	}

	contextBlock, citations := Assemble(retrieved, r.cfg.MaxContextChars)
	if contextBlock == "" {
		// Nothing relevant stored; answering from thin air would fabricate
		// sources.
		log.Info().Str("query", query).Msg("no context available for query")
		return &models.Answer{Text: models.NoContextAnswer}, nil
	}

	return r.Synthesize(ctx, query, contextBlock, citations)
}

// Synthesize fills the prompt template with the query and assembled context,
// generates an answer, and resolves the markers the model actually cited
// against the citation map. Markers pointing outside the supplied context are
// dropped, never invented.
func (r *RAG) Synthesize(ctx context.Context, query, contextBlock string, citations []models.Source) (*models.Answer, error) {
	prompt := fmt.Sprintf(models.UserPromptTemplate, query, contextBlock)

	var text string
	err := r.policy.Do(ctx, func() error {
		var err error
		text, err = r.generator.Generate(ctx, models.SystemRAGInstructions, prompt)
		if err != nil {
			log.Debug().Err(err).Msg("generation call failed, will retry")
			return err
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("generation returned an empty answer")
		}
		return nil
	})
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}

	known := make(map[models.Source]models.Source, len(citations))
	for _, c := range citations {
		key := models.Source{DocumentName: c.DocumentName, PageNumber: c.PageNumber}
		known[key] = c
	}
	var sources []models.Source
	for _, cited := range ParseCitations(text) {
		if resolved, ok := known[cited]; ok {
			sources = append(sources, resolved)
		}
	}

	log.Debug().Int("sources", len(sources)).Msg("synthesized answer")
	return &models.Answer{Text: strings.TrimSpace(text), Sources: sources}, nil
}
