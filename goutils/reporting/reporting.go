package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"metapin/goutils/datamodel"
	"metapin/goutils/httpclient"
	"metapin/goutils/settings"
)

type IssueType string

const (
	ScrapeInternalIssue IssueType = "SCRAPE_INTERNAL_ISSUE" // generic issue type for internal errors
	FetchFailureIssue   IssueType = "METADATA_FETCH_FAILURE"
	PinFailureIssue     IssueType = "PIN_FAILURE"
)

type Service interface {
	Report(issueType IssueType, tokenID string, runID string, extra map[string]interface{})
}

type IssueReporter struct {
	httpClient       *retryablehttp.Client
	slackRateLimiter *rate.Limiter
	settingsObj      *settings.SettingsObj
}

var _ Service = (*IssueReporter)(nil)

func InitIssueReporter(settingsObj *settings.SettingsObj) *IssueReporter {
	client := &IssueReporter{
		httpClient:       httpclient.GetDefaultHTTPClient(settingsObj),
		slackRateLimiter: rate.NewLimiter(1, 1),
		settingsObj:      settingsObj,
	}

	return client
}

func (i *IssueReporter) Report(issueType IssueType, tokenID string, runID string, extra map[string]interface{}) {
	extraData, err := json.Marshal(extra)
	if err != nil {
		log.WithError(err).Error("failed to marshal extra data")
	}

	issue := &datamodel.ScraperIssue{
		InstanceID:      i.settingsObj.InstanceId,
		IssueType:       string(issueType),
		TokenID:         tokenID,
		RunID:           runID,
		TimeOfReporting: strconv.FormatInt(time.Now().Unix(), 10),
		Extra:           string(extraData),
	}

	log.WithField("issue", issue).Debug("reporting issue")

	issueBytes, err := json.Marshal(issue)
	if err != nil {
		log.WithError(err).Error("failed to json marshal issue")

		return
	}

	wg := sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()
		i.ReportOnSlack(issueBytes)
	}()

	go func() {
		defer wg.Done()
		i.ReportToOpsEndpoint(issueBytes)
	}()

	wg.Wait()
}

func (i *IssueReporter) ReportOnSlack(issue []byte) {
	if i.settingsObj.Reporting.SlackWebhookURL == "" {
		return
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, i.settingsObj.Reporting.SlackWebhookURL, bytes.NewBuffer(issue))
	if err != nil {
		log.WithError(err).Error("failed to create request to slack webhook url")

		return
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("accept", "application/json")

	log.Debugf("sending issue to slack")

	err = i.slackRateLimiter.Wait(context.Background())
	if err != nil {
		log.WithError(err).Error("failed to wait for slack rate limiter")

		return
	}

	res, err := i.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("failed to send request to slack webhook")

		return
	}

	defer res.Body.Close()

	resp, err := io.ReadAll(res.Body)
	if err != nil {
		log.WithError(err).Error("failed to read response body from slack webhook")
	}

	if res.StatusCode == http.StatusOK {
		log.WithField("resp", string(resp)).Debug("status ok response from slack webhook")

		return
	}

	log.WithField("resp", string(resp)).Info("response from slack webhook")
}

func (i *IssueReporter) ReportToOpsEndpoint(issue []byte) {
	if i.settingsObj.Reporting.OpsIssueEndpoint == "" {
		return
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, i.settingsObj.Reporting.OpsIssueEndpoint, bytes.NewBuffer(issue))
	if err != nil {
		log.WithError(err).Error("failed to create request to ops issue endpoint")

		return
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("accept", "application/json")

	log.Debug("sending issue to ops endpoint")

	res, err := i.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("failed to send request to ops endpoint")

		return
	}

	defer res.Body.Close()

	resp, err := io.ReadAll(res.Body)
	if err != nil {
		log.WithError(err).Error("failed to read response body from ops endpoint")
	}

	if res.StatusCode == http.StatusOK {
		log.WithField("resp", string(resp)).Debug("status ok response from ops endpoint")

		return
	}

	log.WithField("resp", string(resp)).Info("response from ops endpoint")
}
