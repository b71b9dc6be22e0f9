package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/platform/httpx"
	"github.com/homefit-remodel/api/internal/platform/requestctx"
	"github.com/homefit-remodel/api/internal/services"
)

const (
	maxEstimateBodySize = 64 * 1024

	statusSuccess = "SUCCESS"
	statusError   = "ERROR"
)

// EstimateHandlers exposes estimate calculation, verification and grade recommendation.
type EstimateHandlers struct {
	estimator  services.Estimator
	production bool
}

// EstimateHandlerOption customises EstimateHandlers.
type EstimateHandlerOption func(*EstimateHandlers)

// WithProductionErrors hides raw internal error messages from responses.
func WithProductionErrors(production bool) EstimateHandlerOption {
	return func(h *EstimateHandlers) {
		h.production = production
	}
}

// NewEstimateHandlers constructs the estimate endpoints.
func NewEstimateHandlers(estimator services.Estimator, opts ...EstimateHandlerOption) *EstimateHandlers {
	h := &EstimateHandlers{estimator: estimator}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the estimate endpoints on the API router.
func (h *EstimateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/estimates", h.createEstimate)
	r.Post("/estimates:verify", h.verifyEstimate)
	r.Post("/grades:recommend", h.recommendGrade)
}

func (h *EstimateHandlers) createEstimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.estimator == nil {
		h.writeFailure(ctx, w, http.StatusServiceUnavailable, "estimate service unavailable", nil)
		return
	}

	var req estimateRequest
	if err := httpx.DecodeJSON(r, maxEstimateBodySize, &req); err != nil {
		h.writeBodyError(ctx, w, err)
		return
	}
	cmd := req.command()
	requestctx.Annotate(ctx, "session_id", cmd.SessionID)

	report, err := h.estimator.Estimate(ctx, cmd)
	if err != nil {
		h.writeEstimateError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "estimate_id", report.EstimateID)
	requestctx.Annotate(ctx, "grade", string(report.Result.Grade))

	httpx.WriteJSON(w, http.StatusOK, buildEstimateResponse(report))
}

func (h *EstimateHandlers) verifyEstimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.estimator == nil {
		h.writeFailure(ctx, w, http.StatusServiceUnavailable, "estimate service unavailable", nil)
		return
	}

	var req verifyEstimateRequest
	if err := httpx.DecodeJSON(r, maxEstimateBodySize, &req); err != nil {
		h.writeBodyError(ctx, w, err)
		return
	}

	result, err := h.estimator.Verify(ctx, req.Input.command(), strings.TrimSpace(req.ExpectedOutputHash))
	if err != nil {
		h.writeEstimateError(ctx, w, err)
		return
	}
	if !result.Match {
		requestctx.Annotate(ctx, "reproducibility", "mismatch")
	}

	httpx.WriteJSON(w, http.StatusOK, verifyEstimateResponse{
		Match:              result.Match,
		InputHash:          result.InputHash,
		OutputHash:         result.OutputHash,
		ExpectedOutputHash: result.Expected,
	})
}

func (h *EstimateHandlers) recommendGrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.estimator == nil {
		h.writeFailure(ctx, w, http.StatusServiceUnavailable, "estimate service unavailable", nil)
		return
	}

	var req recommendGradeRequest
	if err := httpx.DecodeJSON(r, maxEstimateBodySize, &req); err != nil {
		h.writeBodyError(ctx, w, err)
		return
	}

	decision, err := h.estimator.RecommendGrade(ctx, req.HouseProfile.profile(), req.Preferences.preferences())
	if err != nil {
		h.writeEstimateError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "grade", string(decision.Grade))

	httpx.WriteJSON(w, http.StatusOK, buildGradeDecisionPayload(decision))
}

func (h *EstimateHandlers) writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	envelope := httpx.BodyError(err)
	h.writeFailure(ctx, w, envelope.Status, envelope.Message, nil)
}

func (h *EstimateHandlers) writeEstimateError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		invalid *services.InputValidationError
		failure *services.EstimateFailure
	)
	switch {
	case errors.As(err, &invalid):
		h.writeFailure(ctx, w, http.StatusBadRequest, "invalid estimate input", func(resp *estimateErrorResponse) {
			resp.Fields = invalid.Fields
		})
	case errors.As(err, &failure):
		status := http.StatusInternalServerError
		message := "no selected process could be priced"
		if failure.Unavailable() {
			status = http.StatusServiceUnavailable
			message = "price lookup unavailable"
		}
		h.writeFailure(ctx, w, status, message, func(resp *estimateErrorResponse) {
			resp.Failures = buildFailuresPayload(failure.Failures)
		})
	case errors.Is(err, context.DeadlineExceeded):
		h.writeFailure(ctx, w, http.StatusServiceUnavailable, "estimate timed out", nil)
	case errors.Is(err, context.Canceled):
		h.writeFailure(ctx, w, http.StatusServiceUnavailable, "request cancelled", nil)
	default:
		message := "internal server error"
		if !h.production {
			message = err.Error()
		}
		h.writeFailure(ctx, w, http.StatusInternalServerError, message, nil)
	}
}

func (h *EstimateHandlers) writeFailure(ctx context.Context, w http.ResponseWriter, status int, message string, decorate func(*estimateErrorResponse)) {
	resp := estimateErrorResponse{
		Status:    statusError,
		Message:   message,
		RequestID: middleware.GetReqID(ctx),
		TraceID:   requestctx.TraceID(ctx),
	}
	if decorate != nil {
		decorate(&resp)
	}
	httpx.WriteJSON(w, status, resp)
}

type estimateRequest struct {
	SessionID         string              `json:"session_id"`
	HouseProfile      houseProfilePayload `json:"house_profile"`
	SelectedSpaces    []string            `json:"selected_spaces"`
	SelectedProcesses map[string][]string `json:"selected_processes"`
	CustomizedSpaces  []string            `json:"customized_spaces"`
	Answers           []answerPayload     `json:"answers"`
	Preferences       preferencesPayload  `json:"preferences"`
	ForceGrade        string              `json:"force_grade"`
}

type houseProfilePayload struct {
	HousingType string  `json:"housing_type"`
	Area        float64 `json:"area"`
	Rooms       int     `json:"rooms"`
	Bathrooms   int     `json:"bathrooms"`
	BuildingAge *int    `json:"building_age,omitempty"`
	Floor       *int    `json:"floor,omitempty"`
}

type answerPayload struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

type preferencesPayload struct {
	Budget    *budgetPayload   `json:"budget,omitempty"`
	Family    familyPayload    `json:"family"`
	Lifestyle lifestylePayload `json:"lifestyle"`
	Purpose   string           `json:"purpose"`
}

type budgetPayload struct {
	Min         int64 `json:"min"`
	Max         int64 `json:"max"`
	Flexibility int   `json:"flexibility"`
}

type familyPayload struct {
	Adults   int  `json:"adults"`
	Children int  `json:"children"`
	Pets     bool `json:"pets"`
}

type lifestylePayload struct {
	Primary string   `json:"primary"`
	Traits  []string `json:"traits,omitempty"`
}

type verifyEstimateRequest struct {
	Input              estimateRequest `json:"input"`
	ExpectedOutputHash string          `json:"expected_output_hash"`
}

type recommendGradeRequest struct {
	HouseProfile houseProfilePayload `json:"house_profile"`
	Preferences  preferencesPayload  `json:"preferences"`
}

func (p houseProfilePayload) profile() domain.HouseProfile {
	return domain.HouseProfile{
		HousingType: domain.HousingType(strings.ToLower(strings.TrimSpace(p.HousingType))),
		Area:        p.Area,
		Rooms:       p.Rooms,
		Bathrooms:   p.Bathrooms,
		BuildingAge: p.BuildingAge,
		Floor:       p.Floor,
	}
}

func (p preferencesPayload) preferences() domain.Preferences {
	prefs := domain.Preferences{
		Family: domain.FamilyPreference{
			Adults:   p.Family.Adults,
			Children: p.Family.Children,
			Pets:     p.Family.Pets,
		},
		Lifestyle: domain.LifestylePreference{
			Primary: strings.TrimSpace(p.Lifestyle.Primary),
			Traits:  trimAll(p.Lifestyle.Traits),
		},
		Purpose: strings.TrimSpace(p.Purpose),
	}
	if p.Budget != nil {
		prefs.Budget = &domain.BudgetPreference{
			Min:                p.Budget.Min,
			Max:                p.Budget.Max,
			FlexibilityPercent: p.Budget.Flexibility,
		}
	}
	return prefs
}

// command maps the request onto the engine input. Spaces keep the order of
// selected_spaces; spaces that only appear in selected_processes follow in
// lexical order so the input hash stays stable.
func (req estimateRequest) command() services.EstimateCommand {
	customized := make(map[string]bool, len(req.CustomizedSpaces))
	for _, space := range req.CustomizedSpaces {
		customized[strings.TrimSpace(space)] = true
	}

	seen := make(map[string]bool, len(req.SelectedSpaces))
	order := make([]string, 0, len(req.SelectedSpaces)+len(req.SelectedProcesses))
	for _, space := range req.SelectedSpaces {
		space = strings.TrimSpace(space)
		if space == "" || seen[space] {
			continue
		}
		seen[space] = true
		order = append(order, space)
	}
	extra := make([]string, 0)
	for space := range req.SelectedProcesses {
		trimmed := strings.TrimSpace(space)
		if trimmed != "" && !seen[trimmed] {
			seen[trimmed] = true
			extra = append(extra, trimmed)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	processesBySpace := make(map[string][]string, len(req.SelectedProcesses))
	for space, processes := range req.SelectedProcesses {
		key := strings.TrimSpace(space)
		processesBySpace[key] = append(processesBySpace[key], processes...)
	}

	scope := domain.SelectedScope{Spaces: make([]domain.SpaceSelection, 0, len(order))}
	for _, space := range order {
		selection := domain.SpaceSelection{
			SpaceID:    domain.SpaceID(space),
			Customized: customized[space],
		}
		for _, process := range processesBySpace[space] {
			if process = strings.TrimSpace(process); process != "" {
				selection.Processes = append(selection.Processes, domain.ProcessID(process))
			}
		}
		scope.Spaces = append(scope.Spaces, selection)
	}

	answers := make([]domain.Answer, 0, len(req.Answers))
	for _, answer := range req.Answers {
		answers = append(answers, domain.Answer{
			QuestionID: strings.TrimSpace(answer.QuestionID),
			Value:      strings.TrimSpace(answer.Value),
		})
	}

	return services.EstimateCommand{
		SessionID:   strings.TrimSpace(req.SessionID),
		House:       req.HouseProfile.profile(),
		Scope:       scope,
		Answers:     answers,
		Preferences: req.Preferences.preferences(),
		Grade:       domain.GradeTier(strings.ToUpper(strings.TrimSpace(req.ForceGrade))),
	}
}

type estimateResponse struct {
	Status          string                  `json:"status"`
	EstimateID      string                  `json:"estimate_id"`
	Grade           string                  `json:"grade"`
	GradeName       string                  `json:"grade_name"`
	Total           totalPayload            `json:"total"`
	Totals          totalsPayload           `json:"totals"`
	ProcessBlocks   []processBlockPayload   `json:"process_blocks"`
	FailedProcesses []processFailurePayload `json:"failed_processes"`
	Budget          *budgetCheckPayload     `json:"budget,omitempty"`
	Warnings        []string                `json:"warnings"`
	Traits          []string                `json:"traits,omitempty"`
	Decision        *gradeDecisionPayload   `json:"decision,omitempty"`
	Explanation     *explanationPayload     `json:"explanation,omitempty"`
	Reproducibility reproducibilityPayload  `json:"reproducibility"`
	CalculatedAt    string                  `json:"calculated_at"`
}

type totalPayload struct {
	AmountWithVAT int64 `json:"amount_with_vat"`
	PerAreaUnit   int64 `json:"per_area_unit"`
}

type totalsPayload struct {
	Material int64 `json:"material"`
	Labor    int64 `json:"labor"`
	Grand    int64 `json:"grand"`
	VAT      int64 `json:"vat"`
}

type processBlockPayload struct {
	ProcessID     string            `json:"process_id"`
	ProcessName   string            `json:"process_name"`
	MaterialTotal int64             `json:"material_total"`
	LaborTotal    int64             `json:"labor_total"`
	Traits        []string          `json:"traits,omitempty"`
	Items         []lineItemPayload `json:"items"`
}

type lineItemPayload struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Spec          string `json:"spec,omitempty"`
	Unit          string `json:"unit"`
	Kind          string `json:"kind"`
	Quantity      int64  `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	Amount        int64  `json:"amount"`
	IsRecommended bool   `json:"is_recommended"`
	RecommendedBy string `json:"recommended_by,omitempty"`
}

type processFailurePayload struct {
	ProcessID    string   `json:"process_id"`
	ProcessName  string   `json:"process_name"`
	MissingItems []string `json:"missing_items"`
	Reason       string   `json:"reason"`
	Message      string   `json:"message"`
}

type budgetCheckPayload struct {
	Exceeded   bool                        `json:"exceeded"`
	Ceiling    int64                       `json:"ceiling"`
	Overage    int64                       `json:"overage"`
	Suggestion *downgradeSuggestionPayload `json:"suggestion,omitempty"`
}

type downgradeSuggestionPayload struct {
	Policy         string   `json:"policy"`
	DropProcesses  []string `json:"drop_processes,omitempty"`
	Savings        int64    `json:"savings"`
	ProjectedTotal int64    `json:"projected_total"`
	Sufficient     bool     `json:"sufficient"`
	LowerGrade     string   `json:"lower_grade,omitempty"`
}

type gradeDecisionPayload struct {
	Grade     string          `json:"grade"`
	GradeName string          `json:"grade_name"`
	Score     float64         `json:"score"`
	Signals   []signalPayload `json:"signals"`
}

type signalPayload struct {
	Signal string  `json:"signal"`
	Value  string  `json:"value"`
	Points float64 `json:"points"`
	Weight int     `json:"weight"`
}

type reproducibilityPayload struct {
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`
}

type verifyEstimateResponse struct {
	Match              bool   `json:"match"`
	InputHash          string `json:"input_hash"`
	OutputHash         string `json:"output_hash"`
	ExpectedOutputHash string `json:"expected_output_hash"`
}

type estimateErrorResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Failures  *failuresPayload  `json:"failures,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
}

type failuresPayload struct {
	FailedProcesses []processFailurePayload `json:"failed_processes"`
	Reasons         []string                `json:"reasons"`
}

func buildEstimateResponse(report services.EstimateReport) estimateResponse {
	result := report.Result
	resp := estimateResponse{
		Status:     statusSuccess,
		EstimateID: report.EstimateID,
		Grade:      string(result.Grade),
		GradeName:  result.GradeName,
		Total: totalPayload{
			AmountWithVAT: result.TotalWithVAT,
			PerAreaUnit:   result.PricePerArea,
		},
		Totals: totalsPayload{
			Material: result.MaterialTotal,
			Labor:    result.LaborTotal,
			Grand:    result.GrandTotal,
			VAT:      result.VAT,
		},
		ProcessBlocks:   make([]processBlockPayload, 0, len(result.Blocks)),
		FailedProcesses: make([]processFailurePayload, 0, len(result.Failures)),
		Warnings:        append([]string{}, result.Warnings...),
		Reproducibility: reproducibilityPayload{
			InputHash:  report.InputHash,
			OutputHash: report.OutputHash,
		},
		CalculatedAt: formatTime(report.CalculatedAt),
	}
	for _, block := range result.Blocks {
		resp.ProcessBlocks = append(resp.ProcessBlocks, buildProcessBlockPayload(block))
	}
	for _, failure := range result.Failures {
		resp.FailedProcesses = append(resp.FailedProcesses, buildProcessFailurePayload(failure))
	}
	if result.Budget != nil {
		resp.Budget = buildBudgetCheckPayload(*result.Budget)
	}
	for _, trait := range report.Traits {
		resp.Traits = append(resp.Traits, string(trait))
	}
	if report.Decision != nil {
		decision := buildGradeDecisionPayload(*report.Decision)
		resp.Decision = &decision
	}
	if report.Explanation != nil {
		explanation := buildExplanationPayload(*report.Explanation)
		resp.Explanation = &explanation
	}
	return resp
}

func buildProcessBlockPayload(block domain.ProcessBlock) processBlockPayload {
	payload := processBlockPayload{
		ProcessID:     string(block.ProcessID),
		ProcessName:   block.ProcessName,
		MaterialTotal: block.MaterialTotal,
		LaborTotal:    block.LaborTotal,
		Items:         make([]lineItemPayload, 0, len(block.Items)),
	}
	for _, trait := range block.Traits {
		payload.Traits = append(payload.Traits, string(trait))
	}
	for _, item := range block.Items {
		payload.Items = append(payload.Items, lineItemPayload{
			Code:          item.Code,
			Name:          item.Name,
			Spec:          item.Spec,
			Unit:          item.Unit,
			Kind:          string(item.Kind),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			Amount:        item.Amount,
			IsRecommended: item.IsRecommended,
			RecommendedBy: string(item.RecommendedBy),
		})
	}
	return payload
}

func buildProcessFailurePayload(failure domain.ProcessFailure) processFailurePayload {
	return processFailurePayload{
		ProcessID:    string(failure.ProcessID),
		ProcessName:  failure.ProcessName,
		MissingItems: append([]string{}, failure.MissingItems...),
		Reason:       string(failure.Reason),
		Message:      failure.Message,
	}
}

func buildFailuresPayload(failures []domain.ProcessFailure) *failuresPayload {
	payload := &failuresPayload{
		FailedProcesses: make([]processFailurePayload, 0, len(failures)),
		Reasons:         make([]string, 0, len(failures)),
	}
	for _, failure := range failures {
		payload.FailedProcesses = append(payload.FailedProcesses, buildProcessFailurePayload(failure))
		payload.Reasons = append(payload.Reasons, failure.Message)
	}
	return payload
}

func buildBudgetCheckPayload(check domain.BudgetCheck) *budgetCheckPayload {
	payload := &budgetCheckPayload{
		Exceeded: check.Exceeded,
		Ceiling:  check.Ceiling,
		Overage:  check.Overage,
	}
	if s := check.Suggestion; s != nil {
		suggestion := &downgradeSuggestionPayload{
			Policy:         s.Policy,
			Savings:        s.Savings,
			ProjectedTotal: s.ProjectedTotal,
			Sufficient:     s.Sufficient,
			LowerGrade:     string(s.LowerGrade),
		}
		for _, id := range s.DropProcesses {
			suggestion.DropProcesses = append(suggestion.DropProcesses, string(id))
		}
		payload.Suggestion = suggestion
	}
	return payload
}

func buildGradeDecisionPayload(decision services.GradeDecision) gradeDecisionPayload {
	payload := gradeDecisionPayload{
		Grade:     string(decision.Grade),
		GradeName: decision.GradeName,
		Score:     decision.Score,
		Signals:   make([]signalPayload, 0, len(decision.Signals)),
	}
	for _, signal := range decision.Signals {
		payload.Signals = append(payload.Signals, signalPayload{
			Signal: signal.Signal,
			Value:  signal.Value,
			Points: signal.Points,
			Weight: signal.Weight,
		})
	}
	return payload
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
