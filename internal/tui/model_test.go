package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/siteqa/internal/answer"
)

type stubAsker struct {
	questions []string
	response  answer.Response
}

func (s *stubAsker) ProcessQuery(_ context.Context, question string) answer.Response {
	s.questions = append(s.questions, question)
	return s.response
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func typeText(m Model, text string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

func TestModel_LoadingUntilSized(t *testing.T) {
	m := New(&stubAsker{}, "https://blog.example.com", time.Second)
	assert.Equal(t, "Loading...", m.View())

	m = sized(t, m)
	assert.Contains(t, m.View(), "Site Q&A")
	assert.Contains(t, m.View(), "No questions yet.")
}

func TestModel_TranscriptFitsFrame(t *testing.T) {
	m := sized(t, New(&stubAsker{}, "", time.Second))

	frame := transcriptStyle.GetHorizontalFrameSize()
	assert.Equal(t, 100-frame, m.viewport.Width)
	assert.Equal(t, 4, frame)

	// narrow terminals keep a usable minimum
	next, _ := m.Update(tea.WindowSizeMsg{Width: 10, Height: 40})
	assert.Equal(t, 20, next.(Model).viewport.Width)
}

func TestModel_AskAndRender(t *testing.T) {
	asker := &stubAsker{response: answer.Response{
		Answer: "Found 1 relevant result(s)",
		Sources: []answer.Source{
			{Title: "Channels", Link: "https://blog.example.com/channels", Similarity: 0.42, Date: "05.03.2024"},
		},
	}}
	m := sized(t, New(asker, "https://blog.example.com", time.Second))
	m = typeText(m, "how do channels work")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, "how do channels work", m.pending)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), "Searching...")

	// a second enter while busy is ignored
	_, again := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, again)

	msg := m.ask("how do channels work")()
	next, _ = m.Update(msg)
	m = next.(Model)

	assert.Equal(t, []string{"how do channels work"}, asker.questions)
	assert.Empty(t, m.pending)
	require.Len(t, m.history, 1)

	transcript := m.renderTranscript()
	assert.Contains(t, transcript, "Q: how do channels work")
	assert.Contains(t, transcript, "Found 1 relevant result(s)")
	assert.Contains(t, transcript, "https://blog.example.com/channels")
	assert.Contains(t, transcript, "05.03.2024")
	assert.Contains(t, m.View(), "1 answered")
}

func TestModel_BlankInputIgnored(t *testing.T) {
	asker := &stubAsker{}
	m := sized(t, New(asker, "", time.Second))
	m = typeText(m, "   ")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	assert.Nil(t, cmd)
	assert.Empty(t, m.pending)
	assert.Empty(t, asker.questions)
}

func TestModel_Quit(t *testing.T) {
	m := sized(t, New(&stubAsker{}, "", time.Second))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
