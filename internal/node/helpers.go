package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/crystal/config"
	"github.com/Klingon-tech/crystal/internal/crystal"
	"github.com/Klingon-tech/crystal/internal/ledger"
	"github.com/Klingon-tech/crystal/internal/p2p"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadDeployment returns the deployment file named in cfg, or the built-in
// deployment of cfg.Network.
func loadDeployment(cfg *config.Config) (*config.Deployment, error) {
	if cfg.DeploymentFile != "" {
		return config.LoadDeployment(expandHome(cfg.DeploymentFile))
	}
	d := config.DeploymentFor(cfg.Network)
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("built-in %s deployment: %w", cfg.Network, err)
	}
	return d, nil
}

// crystalOptions converts a deployment into instance options.
func crystalOptions(d *config.Deployment) (crystal.Options, error) {
	token, err := d.TokenAddress()
	if err != nil {
		return crystal.Options{}, fmt.Errorf("derive token address: %w", err)
	}
	id, err := d.Hash()
	if err != nil {
		return crystal.Options{}, fmt.Errorf("hash deployment: %w", err)
	}
	reserve, err := d.ReserveAddress()
	if err != nil {
		return crystal.Options{}, fmt.Errorf("reserve address: %w", err)
	}
	allocs, err := d.Allocations()
	if err != nil {
		return crystal.Options{}, err
	}

	opts := crystal.Options{
		Token:        token,
		DeploymentID: id,
		Metadata: ledger.Metadata{
			Name:     d.Name,
			Symbol:   d.Symbol,
			Decimals: d.Decimals,
			Cap:      d.Cap.Clone(),
		},
		Params:  d.Params(),
		Reserve: reserve,
	}
	for _, a := range allocs {
		opts.Allocations = append(opts.Allocations, crystal.Allocation{Address: a.Address, Amount: a.Amount})
	}
	return opts, nil
}

// decodeRecord parses and checks a record received from a peer.
func decodeRecord(data []byte) (crystal.Record, error) {
	var rec crystal.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return crystal.Record{}, &p2p.InvalidRecordError{
			Reason:  fmt.Sprintf("decode: %v", err),
			Penalty: p2p.PenaltyMalformedRecord,
		}
	}
	if rec.Kind == "" || len(rec.Payload) == 0 {
		return crystal.Record{}, &p2p.InvalidRecordError{
			Reason:  "missing kind or payload",
			Penalty: p2p.PenaltyMalformedRecord,
		}
	}
	if !rec.Verify() {
		return crystal.Record{}, &p2p.InvalidRecordError{
			Reason:  fmt.Sprintf("record %d id mismatch", rec.Seq),
			Penalty: p2p.PenaltyInvalidRecord,
		}
	}
	return rec, nil
}
