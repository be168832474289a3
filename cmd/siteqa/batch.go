package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/knowledge-engine/siteqa/internal/answer"
)

type asker interface {
	ProcessQuery(ctx context.Context, question string) answer.Response
}

type batchResult struct {
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	Sources  []answer.Source `json:"sources"`
}

// readQuestions returns the non-blank lines of r, untrimmed
func readQuestions(r io.Reader) ([]string, error) {
	var questions []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return questions, nil
}

// runBatch answers questions on a bounded worker pool. Results keep input order.
func runBatch(ctx context.Context, a asker, questions []string, workers int) ([]batchResult, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]batchResult, len(questions))
	var wg sync.WaitGroup
	for i, q := range questions {
		i, q := i, q
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			resp := a.ProcessQuery(ctx, q)
			results[i] = batchResult{Question: q, Answer: resp.Answer, Sources: resp.Sources}
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit question %d: %w", i+1, err)
		}
	}
	wg.Wait()
	return results, nil
}
