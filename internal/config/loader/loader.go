// Package loader reads extbridge configuration sources into generic maps.
//
// A TOML file and the EXTBRIDGE_* environment are each loaded into a
// map[string]any; the config package merges them over the built-in defaults
// and decodes the result.
package loader

// Loader is implemented by every configuration source.
type Loader interface {
	// Load returns nil, nil if the source does not exist.
	Load() (map[string]any, error)
}

// Func adapts a plain function to Loader.
type Func func() (map[string]any, error)

// Load implements Loader.
func (f Func) Load() (map[string]any, error) {
	return f()
}

// Merge layers maps in increasing priority and returns a new map. Nested
// maps are merged key by key; any other value replaces what is below it.
// The inputs are not modified.
func Merge(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for key, v := range src {
		srcMap, ok := v.(map[string]any)
		if !ok {
			dst[key] = v
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = make(map[string]any, len(srcMap))
			dst[key] = dstMap
		}
		mergeInto(dstMap, srcMap)
	}
}
