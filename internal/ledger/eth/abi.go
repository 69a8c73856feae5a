package eth

// UnidirectionalABI is the interface of the Unidirectional payment channel
// contract.
const UnidirectionalABI = `[
{"type":"function","name":"open","stateMutability":"payable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"receiver","type":"address"},{"name":"settlingPeriod","type":"uint256"}],"outputs":[]},
{"type":"function","name":"deposit","stateMutability":"payable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"},{"name":"signature","type":"bytes"}],"outputs":[]},
{"type":"function","name":"startSettling","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"isAbsent","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isPresent","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isSettling","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isOpen","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"canDeposit","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"origin","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"canStartSettling","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"origin","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"canSettle","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"canClaim","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"},{"name":"origin","type":"address"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"paymentDigest","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"event","name":"DidOpen","anonymous":false,"inputs":[{"name":"channelId","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"receiver","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
{"type":"event","name":"DidDeposit","anonymous":false,"inputs":[{"name":"channelId","type":"bytes32","indexed":true},{"name":"deposit","type":"uint256","indexed":false}]},
{"type":"event","name":"DidClaim","anonymous":false,"inputs":[{"name":"channelId","type":"bytes32","indexed":true}]},
{"type":"event","name":"DidStartSettling","anonymous":false,"inputs":[{"name":"channelId","type":"bytes32","indexed":true}]},
{"type":"event","name":"DidSettle","anonymous":false,"inputs":[{"name":"channelId","type":"bytes32","indexed":true}]}
]`
