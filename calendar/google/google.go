// Package google reads external events from Google Calendar.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/studious/planner"
)

const Platform = "google"

const defaultSleep = 5 * time.Second

type Source struct {
	oauthCfg *oauth2.Config
	store    planner.StateStore
}

// NewSource builds a read-only source. Tokens obtained through Login
// live in the state store, one per linked calendar.
func NewSource(credJSON []byte, store planner.StateStore) (*Source, error) {
	oauthCfg, err := google.ConfigFromJSON(credJSON, gcalendar.CalendarEventsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("google: parsing credentials file: %v", err)
	}

	return &Source{
		oauthCfg: oauthCfg,
		store:    store,
	}, nil
}

// ExternalEvents lists the window's occurrences from the linked
// calendar. Recurrences are expanded server-side by the provider.
func (s *Source) ExternalEvents(ctx context.Context, cal planner.ExternalCalendar, w planner.Window, search string) ([]planner.ExternalEvent, error) {
	svc, err := s.calendarSvc(ctx, cal)
	if err != nil {
		return nil, err
	}

	eventsCall := svc.Events.
		List(cal.URL).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true)
	if !w.IsZero() {
		eventsCall = eventsCall.
			TimeMin(w.Start.Format(time.RFC3339)).
			TimeMax(w.End.Format(time.RFC3339))
	}
	if search != "" {
		eventsCall = eventsCall.Q(search)
	}

	var (
		events        []planner.ExternalEvent
		nextPageToken string
	)
	for {
		page, err := eventsCall.PageToken(nextPageToken).Do()
		if err != nil {
			if shouldRetry(err) {
				time.Sleep(defaultSleep)
				continue
			}
			return nil, fmt.Errorf("google: listing events: %w", err)
		}

		for _, item := range page.Items {
			event, err := newEvent(cal, item)
			if err != nil {
				continue
			}
			events = append(events, event)
		}

		nextPageToken = page.NextPageToken
		if nextPageToken == "" {
			break
		}
	}
	return events, nil
}

func newEvent(cal planner.ExternalCalendar, item *gcalendar.Event) (planner.ExternalEvent, error) {
	start, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return planner.ExternalEvent{}, err
	}
	end, _, err := parseEventTime(item.End)
	if err != nil {
		return planner.ExternalEvent{}, err
	}

	return planner.ExternalEvent{
		ID:       syntheticID(item.Id, start),
		Calendar: cal.ID,
		Title:    item.Summary,
		Start:    start,
		End:      end,
		AllDay:   allDay,
		URL:      item.HtmlLink,
	}, nil
}

func parseEventTime(t *gcalendar.EventDateTime) (time.Time, bool, error) {
	if t == nil {
		return time.Time{}, false, errors.New("google: event has no time")
	}
	if t.Date != "" {
		parsed, err := time.Parse(planner.DateFormat, t.Date)
		return parsed, true, err
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	return parsed, false, err
}

// Login walks the browser consent flow and returns the token JSON. The
// caller decides which calendar's state key it is stored under.
func (s *Source) Login(ctx context.Context) ([]byte, error) {
	state := fmt.Sprintf("planner-%d", time.Now().UTC().Nanosecond())
	authURL := s.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(os.Stdout, "\nGo to the following link in your browser\n%s\n", authURL)

	mux := http.NewServeMux()
	server := &http.Server{
		Addr:    ":8080",
		Handler: mux,
	}

	var (
		token   *oauth2.Token
		authErr error
	)

	mux.HandleFunc("/planner", func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			go server.Shutdown(ctx)
		}()

		query := req.URL.Query()
		if query.Get("state") != state {
			authErr = errors.New("oauth link is not valid")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		token, authErr = s.oauthCfg.Exchange(context.TODO(), query.Get("code"))
		if authErr != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "Unable to retrieve token:", authErr)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "All good, you can close this window!")
	})

	serverCh := make(chan struct{})
	var svrErr error
	go func() {
		svrErr = server.ListenAndServe()
		close(serverCh)
	}()

	<-serverCh

	if svrErr != nil && svrErr != http.ErrServerClosed {
		return nil, svrErr
	}

	if authErr != nil {
		return nil, authErr
	}

	return json.Marshal(token)
}

// TokenKey is the state-store key holding the token for one calendar.
func TokenKey(calendarID int64) string {
	return fmt.Sprintf("google_token_%d", calendarID)
}

func (s *Source) calendarSvc(ctx context.Context, cal planner.ExternalCalendar) (*gcalendar.Service, error) {
	raw, ok, err := s.store.Get(ctx, TokenKey(cal.ID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("google: calendar %q is not linked", cal.Name)
	}

	var tok *oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, err
	}
	return gcalendar.NewService(ctx, option.WithHTTPClient(s.oauthCfg.Client(ctx, tok)))
}

func shouldRetry(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}

	for _, err := range gErr.Errors {
		switch err.Reason {
		case "rateLimitExceeded":
			return true
		}
	}
	return false
}

func syntheticID(id string, start time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	h.Write([]byte(start.UTC().Format(time.RFC3339)))
	return int64(h.Sum64() >> 1)
}
