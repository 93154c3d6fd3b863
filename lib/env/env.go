package env

import (
	"context"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Time and randomness
// --------------------------------------------------------------------------

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Token is a lock token. A token is drawn before a node suspends on a remote call
// and compared again after the call returns; only the holder of the current token
// may commit the outcome.
type Token string

// NoToken is the zero token, it never matches a drawn token
const NoToken Token = ""

// TokenSource draws fresh lock tokens
type TokenSource interface {
	Next() Token
}

// RandomTokens draws random (version 4) uuids as tokens
type RandomTokens struct{}

func (RandomTokens) Next() Token { return Token(uuid.NewString()) }

// --------------------------------------------------------------------------
// Remote clients
// --------------------------------------------------------------------------

// CoordinatorClient is used by a shard to reach its coordinator
type CoordinatorClient interface {
	// PushSummary publishes the effective index of the shard `from`.
	// The returned bool is false if the coordinator refused the summary.
	PushSummary(ctx context.Context, from types.NodeID, index types.EffectiveIndex) (bool, error)
}

// ShardClient is used by the coordinator to reach shards
type ShardClient interface {
	// PushModerators replaces the moderator set of a shard. Pushes carrying a
	// version lower than the one the shard holds are ignored by the shard.
	PushModerators(ctx context.Context, shard types.NodeID, version uint64, moderators []types.Identity) (bool, error)
}

// --------------------------------------------------------------------------
// Provisioning
// --------------------------------------------------------------------------

// InstanceSettings are passed to the provisioner when a new instance is created
type InstanceSettings struct {
	Controllers []types.Identity
}

// InstallArgs are the init arguments of a freshly installed shard
type InstallArgs struct {
	Coordinator       types.NodeID
	MaxEntries        uint64
	Moderators        []types.Identity
	ModeratorsVersion uint64
}

// Provisioner creates and installs shard instances on behalf of the coordinator
type Provisioner interface {
	// CreateInstance allocates a new, empty instance and returns its node id
	CreateInstance(ctx context.Context, settings InstanceSettings) (types.NodeID, error)
	// Install turns an empty instance into a running shard
	Install(ctx context.Context, id types.NodeID, args InstallArgs) (bool, error)
	// DeleteInstance releases an instance that was created but never became a shard
	DeleteInstance(ctx context.Context, id types.NodeID) error
}

// Activator is an optional extension of a Provisioner. Activate is called once the
// coordinator committed an installed shard, a provisioner implementing it must not
// let the shard publish summaries before that.
type Activator interface {
	Activate(ctx context.Context, id types.NodeID) error
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// CallContext bounds a remote call. A zero timeout leaves the parent context
// untouched.
func CallContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
