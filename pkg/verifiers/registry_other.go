//go:build !windows

package verifiers

import (
	"context"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/manifest"
)

func registryKeyExists(_ context.Context, item manifest.VerifyItem) engine.VerifyResult {
	return engine.VerifyResult{Message: "registry checks are only supported on windows: " + item.Key}
}
