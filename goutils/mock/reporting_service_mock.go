package mock

import "metapin/goutils/reporting"

type ReportingServiceMock struct {
	ReportMock func(issueType reporting.IssueType, tokenID string, runID string, extra map[string]interface{})
}

func (m ReportingServiceMock) Report(issueType reporting.IssueType, tokenID string, runID string, extra map[string]interface{}) {
	if m.ReportMock != nil {
		m.ReportMock(issueType, tokenID, runID, extra)
	}
}
