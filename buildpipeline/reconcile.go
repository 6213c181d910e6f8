package buildpipeline

import (
	"context"
	"fmt"

	"github.com/dochost/dochost/artifactstore"
	"github.com/dochost/dochost/metadatastore/postgres"
)

// Divergence describes one Release whose believed storage shape disagrees
// with what the Artifact Store actually holds.
type Divergence struct {
	CrateName string
	Version   string
	Reason    string
}

// Reconcile diffs the Metadata Store's belief about every successfully
// built Release's artifacts against what the Artifact Store actually
// holds, and reports divergence rather than repairing it -- repair is an
// operator decision, not an automatic one.
func Reconcile(ctx context.Context, meta *postgres.Store, artifacts *artifactstore.Store) ([]Divergence, error) {
	var out []Divergence
	err := meta.IterReleaseArtifacts(ctx, func(rec postgres.ReleaseArtifactRecord) error {
		for _, kind := range []string{"rustdoc", "sources"} {
			prefix := kind + "/" + rec.CrateName + "/" + rec.Version
			ok, err := artifacts.Exists(ctx, prefix)
			if err != nil {
				return fmt.Errorf("reconcile: check %s: %w", prefix, err)
			}
			if !ok {
				out = append(out, Divergence{
					CrateName: rec.CrateName,
					Version:   rec.Version,
					Reason:    fmt.Sprintf("release status success but %s artifacts missing", kind),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
