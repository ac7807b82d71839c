package device

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/biosync/biostream/pkg/config"
)

// Driver opens a session for one configured device. The returned session
// is Prepared.
type Driver func(ctx context.Context, cfg config.DeviceConfig) (Session, error)

var drivers = map[string]Driver{
	config.DriverSimulated: OpenSimulated,
	config.DriverADS1115:   OpenADS1115,
}

// Drivers lists the available driver names.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens cfg with its driver.
func Open(ctx context.Context, cfg config.DeviceConfig) (Session, error) {
	d, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (available: %s)", cfg.Driver, strings.Join(Drivers(), ", "))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d(ctx, cfg)
}
