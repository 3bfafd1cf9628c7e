// Package analytics extracts support indicators (sentiment, category,
// urgency, churn risk) from a ticket conversation with the LLM.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/freeda-io/freeda/internal/provider"
	"github.com/freeda-io/freeda/pkg/protocol"
)

const (
	historyWindow  = 5
	churnThreshold = 80
	maxFieldLen    = 100
	churnAlert     = "URGENT_RETENTION"

	promptTemplate = `Tu es un expert en analyse de support client pour Free.

TACHE : Analyser la conversation et extraire les indicateurs clés.

CONVERSATION :
%s

FORMAT DE REPONSE ATTENDU (JSON UNIQUEMENT) :
{
  "sentiment": "positif" | "neutre" | "negatif",
  "category": "facturation" | "technique" | "commercial" | "resiliation" | "autre",
  "urgency": "basse" | "moyenne" | "haute",
  "churn_risk": 0 à 100 (probabilité de départ),
  "summary": "résumé TRES PRECIS du problème technique ou commercial (max 15 mots)",
  "next_action": "action recommandée pour l'agent"
}

CRITERES STRICTS :
- Sentiment : 'neutre' est INTERDIT si le client exprime un problème. Utiliser 'negatif' pour tout problème, 'positif' pour un remerciement.
- Summary : Ne jamais mettre "Demande de support". Etre précis (ex: "Panne fibre depuis 3 jours", "Erreur facture 49€").
- Churn Risk : > 80 si mention de 'résiliation', 'concurrent', 'trop cher', 'départ'.
- Urgence : 'haute' si panne totale, blocage bloquant ou risque de churn élevé.

REPONDS UNIQUEMENT AVEC LE JSON.`
)

var (
	trivialReplies = map[string]bool{
		"ok": true, "merci": true, "d'accord": true, "non": true, "oui": true,
	}
	codeFence = regexp.MustCompile("```json\\s*|\\s*```")
	jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)
)

// Analyzer runs conversation analysis through an LLM provider.
type Analyzer struct {
	provider provider.Provider // may be nil
	logger   *slog.Logger
	now      func() time.Time
}

func New(p provider.Provider, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{provider: p, logger: logger, now: time.Now}
}

// Analyze scores the conversation. Trivial trailing messages and missing
// providers yield neutral defaults rather than an error, so callers can
// always persist a result.
func (a *Analyzer) Analyze(ctx context.Context, messages []protocol.Message) *protocol.Analytics {
	if a.provider == nil {
		return a.defaults()
	}

	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	if len(last) < 5 || trivialReplies[strings.ToLower(strings.TrimSpace(last))] {
		a.logger.Debug("skipping analysis of trivial message")
		return a.defaults()
	}

	start := len(messages) - historyWindow
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for _, m := range messages[start:] {
		fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(string(m.Role)), m.Content)
	}

	resp, err := a.provider.Chat(ctx, provider.ChatRequest{
		Messages:    []provider.ChatMessage{{Role: "user", Content: fmt.Sprintf(promptTemplate, sb.String())}},
		MaxTokens:   300,
		Temperature: 0.1,
	})
	if err != nil {
		a.logger.Error("ticket analysis failed", "error", err)
		return a.defaults()
	}

	result := a.parse(resp.Content)
	if result.ChurnRisk > churnThreshold {
		result.Alert = churnAlert
		a.logger.Warn("churn alert", "risk", result.ChurnRisk, "summary", result.Summary)
	}
	return result
}

// parse extracts the JSON payload from a model reply, tolerating
// markdown fences and surrounding prose. Malformed replies fall back to
// the defaults.
func (a *Analyzer) parse(response string) *protocol.Analytics {
	clean := strings.TrimSpace(codeFence.ReplaceAllString(response, ""))
	if match := jsonBlock.FindString(clean); match != "" {
		clean = match
	}

	var raw struct {
		Sentiment  string `json:"sentiment"`
		Category   string `json:"category"`
		Urgency    string `json:"urgency"`
		ChurnRisk  int    `json:"churn_risk"`
		Summary    string `json:"summary"`
		NextAction string `json:"next_action"`
	}
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		a.logger.Error("unparseable analysis reply", "error", err, "reply", response)
		return a.defaults()
	}

	result := &protocol.Analytics{
		Sentiment:  defaultIfEmpty(raw.Sentiment, "neutre"),
		Category:   defaultIfEmpty(raw.Category, "autre"),
		Urgency:    defaultIfEmpty(raw.Urgency, "moyenne"),
		ChurnRisk:  clamp(raw.ChurnRisk, 0, 100),
		Summary:    truncate(defaultIfEmpty(raw.Summary, "Analyse en cours"), maxFieldLen),
		NextAction: truncate(defaultIfEmpty(raw.NextAction, "Vérifier le dossier"), maxFieldLen),
		AnalyzedAt: a.now().UTC(),
	}
	return result
}

func (a *Analyzer) defaults() *protocol.Analytics {
	return &protocol.Analytics{
		Sentiment:  "neutre",
		Category:   "autre",
		Urgency:    "moyenne",
		ChurnRisk:  0,
		Summary:    "En attente d'analyse",
		NextAction: "À traiter",
		AnalyzedAt: a.now().UTC(),
	}
}

func defaultIfEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
