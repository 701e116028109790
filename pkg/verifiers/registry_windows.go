//go:build windows

package verifiers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/manifest"
)

var registryRoots = map[string]registry.Key{
	"HKLM":                registry.LOCAL_MACHINE,
	"HKEY_LOCAL_MACHINE":  registry.LOCAL_MACHINE,
	"HKCU":                registry.CURRENT_USER,
	"HKEY_CURRENT_USER":   registry.CURRENT_USER,
	"HKCR":                registry.CLASSES_ROOT,
	"HKEY_CLASSES_ROOT":   registry.CLASSES_ROOT,
	"HKU":                 registry.USERS,
	"HKEY_USERS":          registry.USERS,
	"HKCC":                registry.CURRENT_CONFIG,
	"HKEY_CURRENT_CONFIG": registry.CURRENT_CONFIG,
}

func registryKeyExists(_ context.Context, item manifest.VerifyItem) engine.VerifyResult {
	if item.Key == "" {
		return engine.VerifyResult{Message: "registry-key-exists requires a key"}
	}

	rootName, path, _ := strings.Cut(strings.ReplaceAll(item.Key, "/", `\`), `\`)
	rootName = strings.TrimSuffix(strings.ToUpper(rootName), ":")
	root, ok := registryRoots[rootName]
	if !ok {
		return engine.VerifyResult{Message: fmt.Sprintf("unknown registry root %q", rootName)}
	}

	k, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return engine.VerifyResult{Message: fmt.Sprintf("%s does not exist", item.Key)}
		}
		return engine.VerifyResult{Message: fmt.Sprintf("cannot open %s: %v", item.Key, err)}
	}
	defer k.Close()

	if item.Value == "" {
		return engine.VerifyResult{Pass: true, Message: fmt.Sprintf("%s exists", item.Key)}
	}

	if _, _, err := k.GetValue(item.Value, nil); err != nil {
		return engine.VerifyResult{Message: fmt.Sprintf("value %s not found under %s", item.Value, item.Key)}
	}
	return engine.VerifyResult{Pass: true, Message: fmt.Sprintf("%s\\%s exists", item.Key, item.Value)}
}
