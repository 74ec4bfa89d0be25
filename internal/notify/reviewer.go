package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/operators"
	"github.com/toolvet/toolvet/internal/review/model"
)

// maxFindingLines caps how many findings a notification body itemises.
const maxFindingLines = 5

type operatorDirectory interface {
	List(ctx context.Context) ([]*operators.Operator, error)
}

// ReviewerNotifier emails the operator roster when a review session needs
// human attention. Delivery failures are logged, never propagated: a dead
// mail server must not stall the workflow.
type ReviewerNotifier struct {
	sender  Sender
	roster  operatorDirectory
	baseURL string
	logger  *zap.Logger
}

// NewReviewerNotifier creates a ReviewerNotifier. baseURL is the service's
// externally reachable address, used to build review links.
func NewReviewerNotifier(sender Sender, roster operatorDirectory, baseURL string, logger *zap.Logger) *ReviewerNotifier {
	return &ReviewerNotifier{
		sender:  sender,
		roster:  roster,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// NotifyAwaitingReview alerts all active operators that a session entered
// the human review queue.
func (n *ReviewerNotifier) NotifyAwaitingReview(ctx context.Context, session *model.ReviewSession) {
	subject := fmt.Sprintf("Review required: %s", session.ToolURI)
	n.send(ctx, session, subject, func(op *operators.Operator) bool { return true })
}

// NotifyEscalation alerts active admins that a session sat unreviewed past
// its deadline. Escalations climb the chain: reviewers already had their
// window.
func (n *ReviewerNotifier) NotifyEscalation(ctx context.Context, session *model.ReviewSession) {
	subject := fmt.Sprintf("Escalated review (level %d): %s", session.EscalationCount, session.ToolURI)
	n.send(ctx, session, subject, func(op *operators.Operator) bool {
		return op.Role == operators.RoleAdmin
	})
}

func (n *ReviewerNotifier) send(ctx context.Context, session *model.ReviewSession, subject string, include func(*operators.Operator) bool) {
	ops, err := n.roster.List(ctx)
	if err != nil {
		n.logger.Error("notify: list operators", zap.Error(err))
		return
	}

	body := n.composeBody(session)
	sent := 0
	for _, op := range ops {
		if !op.Active || !include(op) {
			continue
		}
		if err := n.sender.Send(ctx, op.Email, subject, body); err != nil {
			n.logger.Warn("notify: send failed",
				zap.String("to", op.Email),
				zap.String("review_id", session.ID.String()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	n.logger.Debug("notify: review notification dispatched",
		zap.String("review_id", session.ID.String()),
		zap.Int("recipients", sent),
	)
}

func (n *ReviewerNotifier) composeBody(session *model.ReviewSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool:      %s\n", session.ToolURI)
	fmt.Fprintf(&b, "Review ID: %s\n", session.ID)
	fmt.Fprintf(&b, "Phase:     %s\n", session.Phase)

	if a := session.Analysis; a != nil {
		fmt.Fprintf(&b, "Risk:      %.2f\n", a.RiskScore)
		fmt.Fprintf(&b, "Findings:  %d", len(a.Findings))
		if top := a.HighestSeverity(); top != "" {
			fmt.Fprintf(&b, " (highest severity: %s)", top)
		}
		b.WriteString("\n")
		for i, f := range a.Findings {
			if i == maxFindingLines {
				fmt.Fprintf(&b, "  … and %d more\n", len(a.Findings)-maxFindingLines)
				break
			}
			fmt.Fprintf(&b, "  - [%s] %s (%s)\n", f.Severity, f.Title, f.Location)
		}
	}
	if session.AIRecommendation != "" {
		fmt.Fprintf(&b, "Suggested: %s\n", session.AIRecommendation)
	}

	if n.baseURL != "" {
		fmt.Fprintf(&b, "\nReview at: %s/api/v1/reviews/%s\n", n.baseURL, session.ID)
	}
	return b.String()
}
