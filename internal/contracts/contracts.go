package contracts

// Default deployments on the Kite AI testnet.
const (
	DefaultHabitEscrowAddress = "0x1d4fEaebea612A888cD5230fcbF4A137E5FBeD4B"
	DefaultStrictTokenAddress = "0x8562d963Da5446E455147F181752CB1fe0A76095"
)

// HabitEscrow method and event names.
const (
	MethodCreateChallenge      = "createChallenge"
	MethodEmergencyWithdraw    = "emergencyWithdraw"
	MethodUseResurrection      = "useResurrection"
	MethodClaimReward          = "claimReward"
	MethodGetChallenge         = "getChallenge"
	MethodChallengeCount       = "challengeCount"
	MethodCalculateReward      = "calculateReward"
	MethodGetRewardPoolBalance = "getRewardPoolBalance"

	EventChallengeCreated = "ChallengeCreated"
)

// StrictToken method names.
const (
	MethodBalanceOf = "balanceOf"
	MethodSymbol    = "symbol"
	MethodDecimals  = "decimals"
)

// HabitEscrowABI holds only the functions and events this service calls.
const HabitEscrowABI = `[
	{"name":"createChallenge","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"_targetDays","type":"uint256"},{"name":"_penaltyType","type":"uint8"},{"name":"_habitDescription","type":"string"}],
	 "outputs":[]},
	{"name":"emergencyWithdraw","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_challengeId","type":"uint256"}],"outputs":[]},
	{"name":"useResurrection","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_challengeId","type":"uint256"}],"outputs":[]},
	{"name":"claimReward","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_challengeId","type":"uint256"}],"outputs":[]},
	{"name":"getChallenge","type":"function","stateMutability":"view",
	 "inputs":[{"name":"_user","type":"address"},{"name":"_challengeId","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple","components":[
		{"name":"stakeAmount","type":"uint256"},
		{"name":"targetDays","type":"uint256"},
		{"name":"completedDays","type":"uint256"},
		{"name":"startTime","type":"uint256"},
		{"name":"penaltyType","type":"uint8"},
		{"name":"status","type":"uint8"},
		{"name":"resurrectionUsed","type":"bool"},
		{"name":"habitDescription","type":"string"}]}]},
	{"name":"challengeCount","type":"function","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"calculateReward","type":"function","stateMutability":"view",
	 "inputs":[{"name":"_stakeAmount","type":"uint256"},{"name":"_targetDays","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"getRewardPoolBalance","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"ChallengeCreated","type":"event","anonymous":false,
	 "inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"challengeId","type":"uint256","indexed":true},
		{"name":"stakeAmount","type":"uint256","indexed":false},
		{"name":"targetDays","type":"uint256","indexed":false},
		{"name":"penaltyType","type":"uint8","indexed":false}]}
]`

// StrictTokenABI is the read-only ERC20 subset of the reward token.
const StrictTokenABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"symbol","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"decimals","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`
