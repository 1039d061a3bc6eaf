// Package contract executes a scenario's `[[create]]` directives: it
// deploys resolved bytecode sequentially (avoiding the nonce races a
// parallel deploy would hit) and confirms each one lands on-chain
// before the next begins, per spec.md §4.5 step 3.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/contender/internal/rpc"
	"github.com/gateway-fm/contender/internal/signer"
)

// Spec is one resolved `[[create]]` directive ready for dispatch: the
// name to register in the ContractRegistry and the fully-assembled
// bytecode (constructor args already ABI-encoded and appended by
// internal/template).
type Spec struct {
	Name     string
	Bytecode []byte
}

// DeploymentResult holds the outcome of one deployment within DeployAll.
type DeploymentResult struct {
	Name    string
	Address common.Address
	Err     error
}

// ProgressCallback is called after each contract deployment or skip.
type ProgressCallback func(contractName string, deployed, total int)

// Deployer handles contract deployment.
type Deployer struct {
	client   rpc.Client
	chainID  *big.Int
	gasPrice *big.Int
	logger   *slog.Logger
}

// NewDeployer creates a new contract deployer.
func NewDeployer(client rpc.Client, chainID, gasPrice *big.Int, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		client:   client,
		chainID:  chainID,
		gasPrice: gasPrice,
		logger:   logger,
	}
}

// DeployAll deploys every create directive sequentially, in
// declaration order, per spec.md §4.5 step 3.
//
// Contracts are deployed sequentially (not in parallel) to avoid nonce
// race conditions: when deployed in parallel, tx nonce+1 can arrive at
// the node before tx nonce is processed and get rejected as a "future"
// transaction. Sequential deployment costs a second or two but is far
// more reliable.
func (d *Deployer) DeployAll(ctx context.Context, deployer *signer.Signer, specs []Spec) (map[string]common.Address, error) {
	return d.DeployAllWithProgress(ctx, deployer, specs, nil)
}

// DeployAllWithProgress is DeployAll with progress reporting.
func (d *Deployer) DeployAllWithProgress(ctx context.Context, deployer *signer.Signer, specs []Spec, onProgress ProgressCallback) (map[string]common.Address, error) {
	addresses := make(map[string]common.Address, len(specs))
	total := len(specs)

	startNonce, err := d.client.GetNonce(ctx, deployer.Address.Hex())
	if err != nil {
		return addresses, fmt.Errorf("contract: fetch initial nonce: %w", err)
	}

	for i, spec := range specs {
		expectedAddr := crypto.CreateAddress(deployer.Address, startNonce+uint64(i))

		exists, err := d.checkContractExists(ctx, expectedAddr)
		if err != nil {
			d.logger.Warn("failed to check contract existence, will deploy",
				slog.String("name", spec.Name), slog.String("error", err.Error()))
		} else if exists {
			d.logger.Info("contract already deployed, skipping",
				slog.String("name", spec.Name), slog.String("address", expectedAddr.Hex()))
			addresses[spec.Name] = expectedAddr
			if onProgress != nil {
				onProgress(spec.Name, i+1, total)
			}
			continue
		}

		nonce, err := d.client.GetNonce(ctx, deployer.Address.Hex())
		if err != nil {
			return addresses, fmt.Errorf("contract: fetch nonce for %s: %w", spec.Name, err)
		}

		addr, err := d.deployContract(ctx, deployer, spec.Name, spec.Bytecode, nonce)
		if err != nil {
			return addresses, fmt.Errorf("contract: deploy %s: %w", spec.Name, err)
		}

		addresses[spec.Name] = addr
		d.logger.Info("contract deployed", slog.String("name", spec.Name), slog.String("address", addr.Hex()))
		if onProgress != nil {
			onProgress(spec.Name, i+1, total)
		}
	}

	return addresses, nil
}

func (d *Deployer) checkContractExists(ctx context.Context, addr common.Address) (bool, error) {
	code, err := d.client.GetCode(ctx, addr.Hex())
	if err != nil {
		return false, err
	}
	return code != "" && code != "0x", nil
}

// deployContract builds, signs, and sends a creation tx, retrying on
// the node's transient "under stress"/"recovery mode" errors, then
// waits for the resulting code to land.
func (d *Deployer) deployContract(ctx context.Context, deployer *signer.Signer, name string, bytecode []byte, nonce uint64) (common.Address, error) {
	contractAddr := crypto.CreateAddress(deployer.Address, nonce)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   d.chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(0),
		GasFeeCap: d.gasPrice,
		Gas:       3_000_000,
		To:        nil,
		Value:     big.NewInt(0),
		Data:      bytecode,
	})

	ethSigner := types.LatestSignerForChainID(d.chainID)
	signedTx, err := types.SignTx(tx, ethSigner, deployer.PrivateKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("contract: sign: %w", err)
	}

	rawTx, err := signedTx.MarshalBinary()
	if err != nil {
		return common.Address{}, fmt.Errorf("contract: marshal: %w", err)
	}

	const maxRetries = 10
	baseDelay := 2 * time.Second

	for attempt := range maxRetries {
		err = d.client.SendRawTransaction(ctx, rawTx)
		if err == nil {
			break
		}

		errStr := err.Error()
		if strings.Contains(errStr, "recovery mode") || strings.Contains(errStr, "under stress") {
			delay := min(baseDelay*time.Duration(1<<min(attempt, 4)), 30*time.Second)
			d.logger.Info("node in recovery mode, waiting before retry",
				slog.String("contract", name), slog.Int("attempt", attempt+1), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return common.Address{}, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return common.Address{}, fmt.Errorf("contract: send: %w", err)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("contract: send after retries: %w", err)
	}

	d.logger.Info("deploying contract", slog.String("name", name), slog.String("expected_address", contractAddr.Hex()))
	return d.waitForDeployment(ctx, name, contractAddr)
}

func (d *Deployer) waitForDeployment(ctx context.Context, name string, contractAddr common.Address) (common.Address, error) {
	backoff := 200 * time.Millisecond
	maxBackoff := 2 * time.Second
	deadline := time.Now().Add(60 * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return common.Address{}, ctx.Err()
		case <-time.After(backoff):
		}

		code, err := d.client.GetCode(ctx, contractAddr.Hex())
		if err == nil && code != "" && code != "0x" {
			return contractAddr, nil
		}
		backoff = min(backoff*2, maxBackoff)
	}

	return common.Address{}, fmt.Errorf("contract: timeout waiting for %s deployment", name)
}

// ValidateCachedContracts checks which contracts named in a resumed
// run's ContractRegistry snapshot still have code on-chain.
func (d *Deployer) ValidateCachedContracts(ctx context.Context, cached map[string]string) (valid map[string]common.Address, invalid []string) {
	valid = make(map[string]common.Address)
	for name, addrHex := range cached {
		addr := common.HexToAddress(addrHex)
		exists, err := d.checkContractExists(ctx, addr)
		if err != nil {
			d.logger.Warn("failed to validate cached contract",
				slog.String("name", name), slog.String("address", addrHex), slog.String("error", err.Error()))
			invalid = append(invalid, name)
			continue
		}
		if !exists {
			d.logger.Info("cached contract no longer exists", slog.String("name", name), slog.String("address", addrHex))
			invalid = append(invalid, name)
			continue
		}
		valid[name] = addr
	}
	return valid, invalid
}

// Deploy deploys a single contract.
func (d *Deployer) Deploy(ctx context.Context, deployer *signer.Signer, name string, bytecode []byte) (common.Address, error) {
	nonce, err := d.client.GetNonce(ctx, deployer.Address.Hex())
	if err != nil {
		return common.Address{}, fmt.Errorf("contract: fetch nonce: %w", err)
	}
	return d.deployContract(ctx, deployer, name, bytecode, nonce)
}
