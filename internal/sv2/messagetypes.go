package sv2

// Stratum V2 message-type codes, grouped by sub-protocol. The four groups
// are disjoint by protocol design.

// Common messages.
const (
	MsgTypeSetupConnection        byte = 0x00
	MsgTypeSetupConnectionSuccess byte = 0x01
	MsgTypeSetupConnectionError   byte = 0x02
	MsgTypeChannelEndpointChanged byte = 0x03
	MsgTypeReconnect              byte = 0x25
)

// Mining protocol messages.
const (
	MsgTypeOpenStandardMiningChannel        byte = 0x10
	MsgTypeOpenStandardMiningChannelSuccess byte = 0x11
	MsgTypeOpenMiningChannelError           byte = 0x12
	MsgTypeOpenExtendedMiningChannel        byte = 0x13
	MsgTypeOpenExtendedMiningChannelSuccess byte = 0x14
	MsgTypeNewMiningJob                     byte = 0x15
	MsgTypeUpdateChannel                    byte = 0x16
	MsgTypeUpdateChannelError               byte = 0x17
	MsgTypeCloseChannel                     byte = 0x18
	MsgTypeSetExtranoncePrefix              byte = 0x19
	MsgTypeSubmitSharesStandard             byte = 0x1a
	MsgTypeSubmitSharesExtended             byte = 0x1b
	MsgTypeSubmitSharesSuccess              byte = 0x1c
	MsgTypeSubmitSharesError                byte = 0x1d
	MsgTypeMiningReserved                   byte = 0x1e
	MsgTypeNewExtendedMiningJob             byte = 0x1f
	MsgTypeMiningSetNewPrevHash             byte = 0x20
	MsgTypeSetTarget                        byte = 0x21
	MsgTypeSetCustomMiningJob               byte = 0x22
	MsgTypeSetCustomMiningJobSuccess        byte = 0x23
	MsgTypeSetCustomMiningJobError          byte = 0x24
	MsgTypeSetGroupChannel                  byte = 0x26
)

// Job declaration protocol messages.
const (
	MsgTypeAllocateMiningJobToken             byte = 0x50
	MsgTypeAllocateMiningJobTokenSuccess      byte = 0x51
	MsgTypeProvideMissingTransactions         byte = 0x55
	MsgTypeProvideMissingTransactionsSuccess  byte = 0x56
	MsgTypeDeclareMiningJob                   byte = 0x57
	MsgTypeDeclareMiningJobSuccess            byte = 0x58
	MsgTypeDeclareMiningJobError              byte = 0x59
	MsgTypePushSolution                       byte = 0x60
)

// Template distribution protocol messages.
const (
	MsgTypeCoinbaseOutputConstraints     byte = 0x70
	MsgTypeNewTemplate                   byte = 0x71
	MsgTypeSetNewPrevHash                byte = 0x72
	MsgTypeRequestTransactionData        byte = 0x73
	MsgTypeRequestTransactionDataSuccess byte = 0x74
	MsgTypeRequestTransactionDataError   byte = 0x75
	MsgTypeSubmitSolution                byte = 0x76
)
