package models

// Platform identifies an external content provider.
type Platform string

const (
	PlatformSlack    Platform = "slack"
	PlatformGmail    Platform = "gmail"
	PlatformNotion   Platform = "notion"
	PlatformCalendar Platform = "google_calendar"
)

// AllPlatforms lists every provider the sync engine knows how to talk to.
var AllPlatforms = []Platform{PlatformSlack, PlatformGmail, PlatformNotion, PlatformCalendar}

// Valid reports whether p names a known provider.
func (p Platform) Valid() bool {
	switch p {
	case PlatformSlack, PlatformGmail, PlatformNotion, PlatformCalendar:
		return true
	}
	return false
}

// Tier is the user's subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

// SyncCadence controls how often a user's platforms are pulled.
type SyncCadence string

const (
	CadenceTwiceDaily SyncCadence = "twice_daily"
	CadenceFourDaily  SyncCadence = "four_daily"
	CadenceHourly     SyncCadence = "hourly"
)

// CadenceForTier maps a subscription tier to its sync cadence.
// Unknown tiers get the most conservative cadence.
func CadenceForTier(t Tier) SyncCadence {
	switch t {
	case TierPro:
		return CadenceHourly
	case TierStarter:
		return CadenceFourDaily
	default:
		return CadenceTwiceDaily
	}
}

// ConnectionStatus is the health of a platform connection.
type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionExpired ConnectionStatus = "expired" // token refresh failed, user must re-auth
	ConnectionError   ConnectionStatus = "error"
	ConnectionRevoked ConnectionStatus = "revoked"
)

// DeliverableStatus is the lifecycle state of a deliverable definition.
type DeliverableStatus string

const (
	DeliverableActive   DeliverableStatus = "active"
	DeliverablePaused   DeliverableStatus = "paused"
	DeliverableArchived DeliverableStatus = "archived"
)

// DeliverableMode controls whether finished versions ship automatically
// or wait for the user to review them.
type DeliverableMode string

const (
	ModeAuto     DeliverableMode = "auto"
	ModeSemiAuto DeliverableMode = "semi_auto"
)

// DeliverableOrigin records how a deliverable came to exist.
type DeliverableOrigin string

const (
	OriginOnboarding     DeliverableOrigin = "onboarding"
	OriginConversation   DeliverableOrigin = "conversation"
	OriginSignalEmergent DeliverableOrigin = "signal_emergent"
	OriginManual         DeliverableOrigin = "manual"
)

// TriggerType says whether the scheduler fires a deliverable on its own.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
)

// VersionStatus is the lifecycle state of one generated version.
type VersionStatus string

const (
	VersionGenerating VersionStatus = "generating"
	VersionCompleted  VersionStatus = "completed"
	VersionDelivered  VersionStatus = "delivered"
	VersionPartial    VersionStatus = "partial"
	VersionFailed     VersionStatus = "failed"
	VersionDraft      VersionStatus = "draft"
	VersionSuggested  VersionStatus = "suggested"
)

// IsTerminal reports whether the version will not change state again
// without user action. Completed versions in semi-auto mode sit in review
// and are not terminal.
func (s VersionStatus) IsTerminal() bool {
	switch s {
	case VersionDelivered, VersionPartial, VersionFailed:
		return true
	}
	return false
}

// TicketStatus is the lifecycle state of a work ticket.
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketRunning   TicketStatus = "running"
	TicketCompleted TicketStatus = "completed"
	TicketFailed    TicketStatus = "failed"
)

// IsTerminal reports whether the ticket is finished.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketCompleted || s == TicketFailed
}

// Binding is the gathering strategy of a deliverable type.
type Binding string

const (
	BindingPlatformBound Binding = "platform_bound"
	BindingCrossPlatform Binding = "cross_platform"
	BindingResearch      Binding = "research"
	BindingHybrid        Binding = "hybrid"
)

// DeliveryStatus is the per-destination outcome of an export attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// ActivityType names an entry in the activity log.
type ActivityType string

const (
	ActivityPlatformSynced     ActivityType = "platform_synced"
	ActivityPlatformSyncFailed ActivityType = "platform_sync_failed"
	ActivitySignalProcessed    ActivityType = "signal_processed"
	ActivityDeliverableRun     ActivityType = "deliverable_run"
	ActivitySchedulerHeartbeat ActivityType = "scheduler_heartbeat"
	ActivitySchedulerDropped   ActivityType = "scheduler_dropped"
	ActivityMemoryWritten      ActivityType = "memory_written"
)
