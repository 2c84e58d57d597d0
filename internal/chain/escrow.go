package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"strictHabitAPI/internal/contracts"
	"strictHabitAPI/internal/types/challenge"
)

var (
	ErrNoSigner        = errors.New("no signing key configured")
	ErrReverted        = errors.New("transaction reverted")
	ErrEventNotFound   = errors.New("ChallengeCreated event not found in receipt")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrUnexpectedValue = errors.New("unexpected contract return value")
)

type Config struct {
	RPCURL             string
	HabitEscrowAddress string
	StrictTokenAddress string
	// PrivateKeyHex enables transactions when set.
	PrivateKeyHex string
	// ReceiptTimeout bounds the wait for a mined transaction.
	ReceiptTimeout time.Duration
}

// EscrowClient reads and writes the HabitEscrow contract and reads the
// StrictToken reward balance.
type EscrowClient struct {
	eth        *ethclient.Client
	escrowAddr common.Address
	escrowABI  abi.ABI
	escrow     *bind.BoundContract
	token      *bind.BoundContract

	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	receiptTimeout time.Duration
	logger         *zap.Logger

	metaMu sync.Mutex
	meta   *challenge.TokenMeta
}

type challengeTuple struct {
	StakeAmount      *big.Int
	TargetDays       *big.Int
	CompletedDays    *big.Int
	StartTime        *big.Int
	PenaltyType      uint8
	Status           uint8
	ResurrectionUsed bool
	HabitDescription string
}

func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*EscrowClient, error) {
	escrowAddr := cfg.HabitEscrowAddress
	if escrowAddr == "" {
		escrowAddr = contracts.DefaultHabitEscrowAddress
	}
	tokenAddr := cfg.StrictTokenAddress
	if tokenAddr == "" {
		tokenAddr = contracts.DefaultStrictTokenAddress
	}
	escrowAddress, err := ParseAddress(escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("escrow address: %w", err)
	}
	tokenAddress, err := ParseAddress(tokenAddr)
	if err != nil {
		return nil, fmt.Errorf("token address: %w", err)
	}

	escrowABI, err := abi.JSON(strings.NewReader(contracts.HabitEscrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	tokenABI, err := abi.JSON(strings.NewReader(contracts.StrictTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	c := &EscrowClient{
		eth:            eth,
		escrowAddr:     escrowAddress,
		escrowABI:      escrowABI,
		escrow:         bind.NewBoundContract(escrowAddress, escrowABI, eth, eth, eth),
		token:          bind.NewBoundContract(tokenAddress, tokenABI, eth, eth, eth),
		receiptTimeout: cfg.ReceiptTimeout,
		logger:         logger,
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 2 * time.Minute
	}

	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("failed to fetch chain id: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
		c.chainID = chainID
		logger.Info("signer configured", zap.String("address", c.from.Hex()), zap.String("chain_id", chainID.String()))
	}

	return c, nil
}

func (c *EscrowClient) Close() {
	c.eth.Close()
}

// Ping checks RPC reachability.
func (c *EscrowClient) Ping(ctx context.Context) error {
	_, err := c.eth.BlockNumber(ctx)
	return err
}

// Signer returns the transacting address and whether one is configured.
func (c *EscrowClient) Signer() (common.Address, bool) {
	return c.from, c.key != nil
}

func (c *EscrowClient) ChallengeCount(ctx context.Context, user common.Address) (uint64, error) {
	var out []interface{}
	if err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodChallengeCount, user); err != nil {
		return 0, fmt.Errorf("challengeCount(%s): %w", user.Hex(), err)
	}
	n, err := unpackUint(out)
	if err != nil {
		return 0, fmt.Errorf("challengeCount(%s): %w", user.Hex(), err)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("challengeCount(%s): %w: %s", user.Hex(), ErrUnexpectedValue, n)
	}
	return n.Uint64(), nil
}

func (c *EscrowClient) GetChallenge(ctx context.Context, user common.Address, id uint64) (challenge.Challenge, error) {
	var out []interface{}
	err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodGetChallenge, user, new(big.Int).SetUint64(id))
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("getChallenge(%s, %d): %w", user.Hex(), id, err)
	}
	return decodeChallenge(id, out)
}

func (c *EscrowClient) CalculateReward(ctx context.Context, stake *big.Int, targetDays uint64) (*big.Int, error) {
	var out []interface{}
	err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodCalculateReward, stake, new(big.Int).SetUint64(targetDays))
	if err != nil {
		return nil, fmt.Errorf("calculateReward: %w", err)
	}
	return unpackUint(out)
}

func (c *EscrowClient) RewardPoolBalance(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodGetRewardPoolBalance); err != nil {
		return nil, fmt.Errorf("getRewardPoolBalance: %w", err)
	}
	return unpackUint(out)
}

func (c *EscrowClient) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.token.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodBalanceOf, account); err != nil {
		return nil, fmt.Errorf("balanceOf(%s): %w", account.Hex(), err)
	}
	return unpackUint(out)
}

// TokenMeta reads the token symbol and decimals once and caches them.
func (c *EscrowClient) TokenMeta(ctx context.Context) (challenge.TokenMeta, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	if c.meta != nil {
		return *c.meta, nil
	}

	var out []interface{}
	if err := c.token.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodSymbol); err != nil {
		return challenge.TokenMeta{}, fmt.Errorf("symbol: %w", err)
	}
	symbol, err := unpackString(out)
	if err != nil {
		return challenge.TokenMeta{}, fmt.Errorf("symbol: %w", err)
	}

	out = nil
	if err := c.token.Call(&bind.CallOpts{Context: ctx}, &out, contracts.MethodDecimals); err != nil {
		return challenge.TokenMeta{}, fmt.Errorf("decimals: %w", err)
	}
	decimals, err := unpackUint8(out)
	if err != nil {
		return challenge.TokenMeta{}, fmt.Errorf("decimals: %w", err)
	}

	c.meta = &challenge.TokenMeta{Symbol: symbol, Decimals: decimals}
	return *c.meta, nil
}

// CreateChallenge sends a payable createChallenge and returns the id assigned
// by the contract, read from the ChallengeCreated event.
func (c *EscrowClient) CreateChallenge(ctx context.Context, p challenge.CreateParams, description string) (uint64, string, error) {
	opts, err := c.transactor(ctx)
	if err != nil {
		return 0, "", err
	}
	opts.Value = p.Stake

	tx, err := c.escrow.Transact(opts, contracts.MethodCreateChallenge,
		new(big.Int).SetUint64(p.TargetDays), uint8(p.PenaltyType), description)
	if err != nil {
		return 0, "", fmt.Errorf("createChallenge: %w", err)
	}
	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return 0, tx.Hash().Hex(), err
	}
	id, err := c.challengeIDFromReceipt(receipt, c.from)
	if err != nil {
		return 0, tx.Hash().Hex(), err
	}
	return id, tx.Hash().Hex(), nil
}

func (c *EscrowClient) ClaimReward(ctx context.Context, id uint64) (string, error) {
	return c.transactByID(ctx, contracts.MethodClaimReward, id)
}

func (c *EscrowClient) EmergencyWithdraw(ctx context.Context, id uint64) (string, error) {
	return c.transactByID(ctx, contracts.MethodEmergencyWithdraw, id)
}

func (c *EscrowClient) UseResurrection(ctx context.Context, id uint64) (string, error) {
	return c.transactByID(ctx, contracts.MethodUseResurrection, id)
}

func (c *EscrowClient) transactByID(ctx context.Context, method string, id uint64) (string, error) {
	opts, err := c.transactor(ctx)
	if err != nil {
		return "", err
	}
	tx, err := c.escrow.Transact(opts, method, new(big.Int).SetUint64(id))
	if err != nil {
		return "", fmt.Errorf("%s(%d): %w", method, id, err)
	}
	if _, err := c.waitMined(ctx, tx); err != nil {
		return tx.Hash().Hex(), fmt.Errorf("%s(%d): %w", method, id, err)
	}
	return tx.Hash().Hex(), nil
}

func (c *EscrowClient) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (c *EscrowClient) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	c.logger.Info("transaction sent", zap.String("tx_hash", tx.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *EscrowClient) challengeIDFromReceipt(receipt *types.Receipt, user common.Address) (uint64, error) {
	return challengeIDFromLogs(c.escrowABI, c.escrowAddr, receipt.Logs, user)
}

func challengeIDFromLogs(escrowABI abi.ABI, escrowAddr common.Address, logs []*types.Log, user common.Address) (uint64, error) {
	event, ok := escrowABI.Events[contracts.EventChallengeCreated]
	if !ok {
		return 0, ErrEventNotFound
	}
	for _, lg := range logs {
		if lg == nil || lg.Address != escrowAddr || len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
			continue
		}
		if common.BytesToAddress(lg.Topics[1].Bytes()) != user {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[2].Bytes())
		if !id.IsUint64() {
			return 0, fmt.Errorf("%w: challenge id %s", ErrUnexpectedValue, id)
		}
		return id.Uint64(), nil
	}
	return 0, ErrEventNotFound
}

func decodeChallenge(id uint64, out []interface{}) (challenge.Challenge, error) {
	if len(out) != 1 {
		return challenge.Challenge{}, fmt.Errorf("%w: %d outputs", ErrUnexpectedValue, len(out))
	}
	t, ok := abi.ConvertType(out[0], new(challengeTuple)).(*challengeTuple)
	if !ok || t == nil {
		return challenge.Challenge{}, fmt.Errorf("%w: %T", ErrUnexpectedValue, out[0])
	}
	return t.toChallenge(id), nil
}

func (t *challengeTuple) toChallenge(id uint64) challenge.Challenge {
	c := challenge.Challenge{
		ID:               id,
		StakeAmount:      orZero(t.StakeAmount),
		TargetDays:       orZero(t.TargetDays).Uint64(),
		CompletedDays:    orZero(t.CompletedDays).Uint64(),
		StartTime:        time.Unix(orZero(t.StartTime).Int64(), 0).UTC(),
		PenaltyType:      challenge.PenaltyType(t.PenaltyType),
		Status:           challenge.Status(t.Status),
		ResurrectionUsed: t.ResurrectionUsed,
		HabitDescription: t.HabitDescription,
	}
	c.Category = challenge.InferCategory(c.HabitDescription)
	return c
}

func unpackUint(out []interface{}) (*big.Int, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %d outputs", ErrUnexpectedValue, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedValue, out[0])
	}
	return v, nil
}

func unpackString(out []interface{}) (string, error) {
	if len(out) != 1 {
		return "", fmt.Errorf("%w: %d outputs", ErrUnexpectedValue, len(out))
	}
	v, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnexpectedValue, out[0])
	}
	return v, nil
}

func unpackUint8(out []interface{}) (uint8, error) {
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: %d outputs", ErrUnexpectedValue, len(out))
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnexpectedValue, out[0])
	}
	return v, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
