// Package wallet holds the connected account used to sign bet transactions.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNotConnected = errors.New("wallet not connected")
	// ErrRejected means the user declined to sign.
	ErrRejected = errors.New("signature rejected by user")
)

// Connector names accepted by Connect.
const (
	ConnectorPrivateKey = "privatekey"
	ConnectorKeystore   = "keystore"
)

// Connectors lists the available connectors.
func Connectors() []string {
	return []string{ConnectorPrivateKey, ConnectorKeystore}
}

// ConfirmFunc is asked before every signature. Returning false rejects it.
type ConfirmFunc func(tx *types.Transaction) bool

// ConnectParams carries the connector-specific inputs.
type ConnectParams struct {
	PrivateKey   string
	KeystorePath string
	Password     string
}

// Wallet is a single-account signer that can be connected and disconnected.
type Wallet struct {
	mu      sync.RWMutex
	chainID *big.Int
	key     *ecdsa.PrivateKey
	addr    common.Address
	confirm ConfirmFunc
}

func New(chainID *big.Int, confirm ConfirmFunc) *Wallet {
	return &Wallet{chainID: chainID, confirm: confirm}
}

// Connect loads the account through the named connector.
func (w *Wallet) Connect(connector string, p ConnectParams) error {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	switch connector {
	case ConnectorPrivateKey:
		key, err = crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(p.PrivateKey), "0x"))
		if err != nil {
			return fmt.Errorf("bad private key: %w", err)
		}
	case ConnectorKeystore:
		blob, rerr := os.ReadFile(p.KeystorePath)
		if rerr != nil {
			return fmt.Errorf("read keystore: %w", rerr)
		}
		k, derr := keystore.DecryptKey(blob, p.Password)
		if derr != nil {
			return fmt.Errorf("decrypt keystore: %w", derr)
		}
		key = k.PrivateKey
	default:
		return fmt.Errorf("unknown connector %q", connector)
	}

	w.mu.Lock()
	w.key = key
	w.addr = crypto.PubkeyToAddress(key.PublicKey)
	w.mu.Unlock()
	return nil
}

func (w *Wallet) Disconnect() {
	w.mu.Lock()
	w.key = nil
	w.addr = common.Address{}
	w.mu.Unlock()
}

func (w *Wallet) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.key != nil
}

func (w *Wallet) Address() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.addr
}

// TransactOpts returns signing options bound to ctx. The confirm hook runs
// before each signature.
func (w *Wallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	w.mu.RLock()
	key := w.key
	w.mu.RUnlock()
	if key == nil {
		return nil, ErrNotConnected
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, w.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	if w.confirm != nil {
		sign := opts.Signer
		opts.Signer = func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if !w.confirm(tx) {
				return nil, ErrRejected
			}
			return sign(from, tx)
		}
	}
	return opts, nil
}
