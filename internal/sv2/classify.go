package sv2

// MessageType is the protocol category a message-type code belongs to.
type MessageType int

const (
	// MessageTypeCommon covers connection setup and endpoint management.
	MessageTypeCommon MessageType = iota
	// MessageTypeMining covers channel management and share submission.
	MessageTypeMining
	// MessageTypeJobDeclaration covers job declaration with the pool.
	MessageTypeJobDeclaration
	// MessageTypeTemplateDistribution covers block-template delivery.
	MessageTypeTemplateDistribution
	// MessageTypeUnknown is every code outside the four named sets.
	MessageTypeUnknown
)

// String returns string representation of the message type
func (m MessageType) String() string {
	switch m {
	case MessageTypeCommon:
		return "common"
	case MessageTypeMining:
		return "mining"
	case MessageTypeJobDeclaration:
		return "job_declaration"
	case MessageTypeTemplateDistribution:
		return "template_distribution"
	default:
		return "unknown"
	}
}

// IsCommonMessage reports whether the code is a common sub-protocol message.
func IsCommonMessage(msgType byte) bool {
	switch msgType {
	case MsgTypeSetupConnection,
		MsgTypeSetupConnectionSuccess,
		MsgTypeSetupConnectionError,
		MsgTypeChannelEndpointChanged,
		MsgTypeReconnect:
		return true
	}
	return false
}

// IsMiningMessage reports whether the code is a mining sub-protocol message.
func IsMiningMessage(msgType byte) bool {
	switch msgType {
	case MsgTypeOpenStandardMiningChannel,
		MsgTypeOpenStandardMiningChannelSuccess,
		MsgTypeOpenMiningChannelError,
		MsgTypeOpenExtendedMiningChannel,
		MsgTypeOpenExtendedMiningChannelSuccess,
		MsgTypeNewMiningJob,
		MsgTypeUpdateChannel,
		MsgTypeUpdateChannelError,
		MsgTypeCloseChannel,
		MsgTypeSetExtranoncePrefix,
		MsgTypeSubmitSharesStandard,
		MsgTypeSubmitSharesExtended,
		MsgTypeSubmitSharesSuccess,
		MsgTypeSubmitSharesError,
		MsgTypeMiningReserved,
		MsgTypeNewExtendedMiningJob,
		MsgTypeMiningSetNewPrevHash,
		MsgTypeSetTarget,
		MsgTypeSetCustomMiningJob,
		MsgTypeSetCustomMiningJobSuccess,
		MsgTypeSetCustomMiningJobError,
		MsgTypeSetGroupChannel:
		return true
	}
	return false
}

// IsJobDeclarationMessage reports whether the code is a job-declaration
// sub-protocol message.
func IsJobDeclarationMessage(msgType byte) bool {
	switch msgType {
	case MsgTypeAllocateMiningJobToken,
		MsgTypeAllocateMiningJobTokenSuccess,
		MsgTypeProvideMissingTransactions,
		MsgTypeProvideMissingTransactionsSuccess,
		MsgTypeDeclareMiningJob,
		MsgTypeDeclareMiningJobSuccess,
		MsgTypeDeclareMiningJobError,
		MsgTypePushSolution:
		return true
	}
	return false
}

// IsTemplateDistributionMessage reports whether the code is a
// template-distribution sub-protocol message.
func IsTemplateDistributionMessage(msgType byte) bool {
	switch msgType {
	case MsgTypeCoinbaseOutputConstraints,
		MsgTypeNewTemplate,
		MsgTypeSetNewPrevHash,
		MsgTypeRequestTransactionData,
		MsgTypeRequestTransactionDataSuccess,
		MsgTypeRequestTransactionDataError,
		MsgTypeSubmitSolution:
		return true
	}
	return false
}

// Classify maps a message-type code to its protocol category. Total over all
// byte values; codes outside the four named sets classify as unknown. The
// sets are disjoint, so the check order is a safety net rather than a
// tie-breaker.
func Classify(msgType byte) MessageType {
	switch {
	case IsCommonMessage(msgType):
		return MessageTypeCommon
	case IsMiningMessage(msgType):
		return MessageTypeMining
	case IsJobDeclarationMessage(msgType):
		return MessageTypeJobDeclaration
	case IsTemplateDistributionMessage(msgType):
		return MessageTypeTemplateDistribution
	default:
		return MessageTypeUnknown
	}
}
