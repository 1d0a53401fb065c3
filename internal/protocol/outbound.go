package protocol

import (
	"time"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
)

// SystemOperational is the system_status value of a health report.
const SystemOperational = "OPERATIONAL"

// ScrapeRequest asks the automation client for the latest text of an endpoint.
type ScrapeRequest struct {
	Action   string `json:"action"`
	Location string `json:"location"`
	Selector string `json:"selector"`
	Who      string `json:"who"`
}

func NewScrapeRequest(d domain.Descriptor) ScrapeRequest {
	return ScrapeRequest{
		Action:   ActionGetLatest,
		Location: d.Location,
		Selector: d.ScrapeSelector(),
		Who:      d.ID,
	}
}

// InjectRequest asks the automation client to type text into an endpoint.
type InjectRequest struct {
	Action   string `json:"action"`
	Location string `json:"location"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Who      string `json:"who"`
}

func NewInjectRequest(d domain.Descriptor, text string) InjectRequest {
	return InjectRequest{
		Action:   ActionSendMessage,
		Location: d.Location,
		Selector: d.InputSelector(),
		Text:     text,
		Who:      d.ID,
	}
}

// LatestFailure answers a get_latest command that could not be served.
type LatestFailure struct {
	Action string  `json:"action"`
	Text   *string `json:"text"`
	Who    string  `json:"who"`
	Error  string  `json:"error"`
}

func NewLatestFailure(who, reason string) LatestFailure {
	return LatestFailure{Action: ActionLatest, Who: who, Error: reason}
}

// SentFailure answers a send_message command that failed validation.
type SentFailure struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Who    string `json:"who"`
	Error  string `json:"error"`
}

func NewSentFailure(who, reason string) SentFailure {
	return SentFailure{Action: ActionSent, OK: false, Who: who, Error: reason}
}

type Greeting struct {
	Action      string    `json:"action"`
	Message     string    `json:"message"`
	ServerTime  time.Time `json:"server_time"`
	EndpointIDs []string  `json:"endpoint_ids"`
}

func NewGreeting(now time.Time, ids []string) Greeting {
	return Greeting{
		Action:      ActionConnectionEstablished,
		Message:     "relay bridge ready",
		ServerTime:  now,
		EndpointIDs: ids,
	}
}

type HeartbeatAck struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

func NewHeartbeatAck(now time.Time) HeartbeatAck {
	return HeartbeatAck{Action: ActionHeartbeatAck, Timestamp: now}
}

type HealthReport struct {
	Action           string                     `json:"action"`
	Timestamp        time.Time                  `json:"timestamp"`
	Uptime           string                     `json:"uptime"`
	UptimeSeconds    float64                    `json:"uptime_seconds"`
	ConnectedCount   int                        `json:"connected_count"`
	EndpointStatuses map[string]domain.Endpoint `json:"endpoint_statuses"`
	Stats            domain.Stats               `json:"stats"`
	SystemStatus     string                     `json:"system_status"`
}

type BackupComplete struct {
	Action string `json:"action"`
}

func NewBackupComplete() BackupComplete {
	return BackupComplete{Action: ActionBackupComplete}
}

// EmergencyRestore tells the client which endpoint pages to reopen.
// RestoreURLs maps display name to location.
type EmergencyRestore struct {
	Action      string            `json:"action"`
	MissingAIs  []string          `json:"missing_ais"`
	RestoreURLs map[string]string `json:"restore_urls"`
}

func NewEmergencyRestore(missing []domain.Descriptor) EmergencyRestore {
	r := EmergencyRestore{
		Action:      ActionEmergencyRestore,
		MissingAIs:  make([]string, 0, len(missing)),
		RestoreURLs: make(map[string]string, len(missing)),
	}
	for _, d := range missing {
		r.MissingAIs = append(r.MissingAIs, d.Name)
		r.RestoreURLs[d.Name] = d.Location
	}
	return r
}

type ErrorEnvelope struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Command string `json:"command"`
}

func NewError(command string, err error) ErrorEnvelope {
	return ErrorEnvelope{Action: ActionError, Message: err.Error(), Command: command}
}
