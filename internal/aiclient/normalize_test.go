package aiclient

import "testing"

func TestNormalizeVerdicts_ArrayShape(t *testing.T) {
	resp := AiAnalysisResponse{
		"issues": []any{
			map[string]any{"issueId": "100", "isResolved": true, "reason": "Fixed"},
			map[string]any{"id": "200", "status": "open"},
		},
	}

	verdicts := NormalizeVerdicts(resp, nil)
	if len(verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(verdicts))
	}
	if verdicts[0].IssueID != "100" || !verdicts[0].IsResolved || verdicts[0].Reason != "Fixed" {
		t.Errorf("unexpected verdict 0: %+v", verdicts[0])
	}
	if verdicts[1].IssueID != "200" || verdicts[1].IsResolved {
		t.Errorf("unexpected verdict 1: %+v", verdicts[1])
	}
}

func TestNormalizeVerdicts_MapShape(t *testing.T) {
	resp := AiAnalysisResponse{
		"issues": map[string]any{
			"0": map[string]any{"issueId": "100", "isResolved": true, "reason": "Fixed"},
			"1": map[string]any{"issueId": "200", "status": "resolved"},
		},
	}

	verdicts := NormalizeVerdicts(resp, nil)
	if len(verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(verdicts))
	}
	byID := map[string]Verdict{}
	for _, v := range verdicts {
		byID[v.IssueID] = v
	}
	if !byID["100"].IsResolved || !byID["200"].IsResolved {
		t.Errorf("expected both verdicts resolved, got %+v", byID)
	}
}

func TestNormalizeVerdicts_UnrecognizedShape_ReturnsEmpty(t *testing.T) {
	resp := AiAnalysisResponse{"issues": "not a list or map"}
	verdicts := NormalizeVerdicts(resp, nil)
	if len(verdicts) != 0 {
		t.Errorf("expected empty sequence for unrecognized shape, got %+v", verdicts)
	}
}

func TestNormalizeVerdicts_MissingIssuesField_ReturnsNil(t *testing.T) {
	resp := AiAnalysisResponse{}
	if verdicts := NormalizeVerdicts(resp, nil); verdicts != nil {
		t.Errorf("expected nil, got %+v", verdicts)
	}
}

func TestNormalizeVerdicts_StatusFallback(t *testing.T) {
	resp := AiAnalysisResponse{
		"issues": []any{
			map[string]any{"id": "1", "status": "resolved"},
			map[string]any{"id": "2", "status": "open"},
		},
	}
	verdicts := NormalizeVerdicts(resp, nil)
	if !verdicts[0].IsResolved || verdicts[1].IsResolved {
		t.Errorf("expected status-based resolution, got %+v", verdicts)
	}
}
