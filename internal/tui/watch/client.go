package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/ductile-ci/internal/api"
	"github.com/mattjoyce/ductile-ci/internal/events"
)

type eventMsg events.Event

type healthMsg api.HealthzResponse

// queueMsg carries one poll of /runners and /commits.
type queueMsg struct {
	Runners api.RunnersResponse
	Commits api.CommitsResponse
}

type tickMsg time.Time

// errMsg reports a failed poll; retry re-issues it.
type errMsg struct {
	err   error
	retry func() tea.Msg
}

func (e errMsg) Error() string { return e.err.Error() }

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

var pollClient = &http.Client{Timeout: 2 * time.Second}

// subscribeToEvents follows /events and feeds each event into ch. It returns
// sseDisconnectedMsg when the stream ends.
func subscribeToEvents(apiURL, token string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := newRequest(context.Background(), apiURL+"/events", token)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg{err: fmt.Errorf("GET /events: %s", resp.Status), retry: func() tea.Msg { return reconnectMsg{} }}
		}

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var cur events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(cur.Data) > 0 {
				cur.At = time.Now()
				ch <- cur
			}
			cur = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = []byte(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func newRequest(ctx context.Context, url, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func getJSON(ctx context.Context, url, token string, out any) error {
	req, err := newRequest(ctx, url, token)
	if err != nil {
		return err
	}
	resp, err := pollClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fetchHealth queries /healthz.
func fetchHealth(apiURL, token string) tea.Msg {
	var h api.HealthzResponse
	if err := getJSON(context.Background(), apiURL+"/healthz", token, &h); err != nil {
		return errMsg{err: err, retry: func() tea.Msg { return fetchHealth(apiURL, token) }}
	}
	return healthMsg(h)
}

// fetchQueue queries /runners and /commits.
func fetchQueue(apiURL, token string) tea.Msg {
	var q queueMsg
	retry := func() tea.Msg { return fetchQueue(apiURL, token) }
	if err := getJSON(context.Background(), apiURL+"/runners", token, &q.Runners); err != nil {
		return errMsg{err: err, retry: retry}
	}
	if err := getJSON(context.Background(), apiURL+"/commits", token, &q.Commits); err != nil {
		return errMsg{err: err, retry: retry}
	}
	return q
}
