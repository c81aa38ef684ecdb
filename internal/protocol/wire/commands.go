package wire

import "fmt"

// Cmd identifies one message type on the job/worker channel.
//
// The numeric values are wire-stable: both ends of the channel are built
// from this table, there is no in-band version field, and payloads are
// interpreted purely by position in the vocabulary. Never renumber.
type Cmd uint32

// Commands sent by the job to the worker.
const (
	CmdHost         Cmd = '0' // host, port, user, pass for all following commands
	CmdConnect      Cmd = '1' // open a persistent connection
	CmdDisconnect   Cmd = '2' // close a persistent connection
	CmdWorkerStatus Cmd = '3' // report status via MsgWorkerStatus

	CmdNone                Cmd = 'A' // no-op, accepted and ignored
	CmdGet                 Cmd = 'C'
	CmdPut                 Cmd = 'D'
	CmdStat                Cmd = 'E'
	CmdMimetype            Cmd = 'F'
	CmdListDir             Cmd = 'G'
	CmdMkdir               Cmd = 'H'
	CmdRename              Cmd = 'I'
	CmdCopy                Cmd = 'J'
	CmdDel                 Cmd = 'K'
	CmdChmod               Cmd = 'L'
	CmdSpecial             Cmd = 'M'
	CmdSetModificationTime Cmd = 'N'
	CmdReparseConfig       Cmd = 'O'
	CmdMetaData            Cmd = 'P' // metadata push, merged into the incoming map
	CmdSymlink             Cmd = 'Q'
	CmdSubURL              Cmd = 'R'
	CmdMessageBoxAnswer    Cmd = 'S'
	CmdResumeAnswer        Cmd = 'T'
	CmdConfig              Cmd = 'U' // config push, replaces the config map
	CmdMultiGet            Cmd = 'V'
	CmdSetLinkDest         Cmd = 'W'
	CmdOpen                Cmd = 'X'
	CmdChown               Cmd = 'Y'
	CmdRead                Cmd = 'Z'
	CmdWrite               Cmd = 91
	CmdSeek                Cmd = 92
	CmdClose               Cmd = 93
	CmdHostInfo            Cmd = 94 // answer to MsgHostInfoReq
	CmdFreeSpace           Cmd = 95
	CmdTruncate            Cmd = 96
	CmdPrivilegeAnswer     Cmd = 97 // answer to MsgPrivilegeRequest
	CmdData                Cmd = 98 // answer to MsgDataReq; empty payload ends the stream
)

// Messages sent by the worker to the job.
const (
	MsgData             Cmd = 100
	MsgDataReq          Cmd = 101
	MsgError            Cmd = 102
	MsgConnected        Cmd = 103
	MsgFinished         Cmd = 104
	MsgStatEntry        Cmd = 105
	MsgListEntries      Cmd = 106
	MsgResume           Cmd = 108 // resume offer with offset, answered by CmdResumeAnswer
	MsgWorkerStatus     Cmd = 109
	MsgNeedSubURLData   Cmd = 113
	MsgCanResume        Cmd = 114 // byte-range support announcement, no answer expected
	MsgOpened           Cmd = 117
	MsgWritten          Cmd = 118
	MsgHostInfoReq      Cmd = 119
	MsgPrivilegeRequest Cmd = 120

	// Informational messages layered on a running command.
	InfTotalSize     Cmd = 10
	InfProcessedSize Cmd = 11
	InfSpeed         Cmd = 12
	InfRedirection   Cmd = 20
	InfMimeType      Cmd = 21
	InfErrorPage     Cmd = 22
	InfWarning       Cmd = 23
	InfInfoMessage   Cmd = 26
	InfMetaData      Cmd = 27
	InfMessageBox    Cmd = 29
	InfPosition      Cmd = 30
	InfTruncated     Cmd = 31
)

// IsJobCmd reports whether c originates on the job side. The dispatch loop
// only accepts job commands; worker messages arriving as input are a
// protocol violation.
func IsJobCmd(c Cmd) bool {
	switch c {
	case CmdHost, CmdConnect, CmdDisconnect, CmdWorkerStatus,
		CmdNone, CmdGet, CmdPut, CmdStat, CmdMimetype, CmdListDir,
		CmdMkdir, CmdRename, CmdCopy, CmdDel, CmdChmod, CmdSpecial,
		CmdSetModificationTime, CmdReparseConfig, CmdMetaData, CmdSymlink,
		CmdSubURL, CmdMessageBoxAnswer, CmdResumeAnswer, CmdConfig,
		CmdMultiGet, CmdSetLinkDest, CmdOpen, CmdChown, CmdRead, CmdWrite,
		CmdSeek, CmdClose, CmdHostInfo, CmdFreeSpace, CmdTruncate,
		CmdPrivilegeAnswer, CmdData:
		return true
	}
	return false
}

// IsWorkerMsg reports whether c originates on the worker side.
func IsWorkerMsg(c Cmd) bool {
	switch c {
	case MsgData, MsgDataReq, MsgError, MsgConnected, MsgFinished,
		MsgStatEntry, MsgListEntries, MsgResume, MsgWorkerStatus,
		MsgNeedSubURLData, MsgCanResume, MsgOpened, MsgWritten,
		MsgHostInfoReq, MsgPrivilegeRequest,
		InfTotalSize, InfProcessedSize, InfSpeed, InfRedirection,
		InfMimeType, InfErrorPage, InfWarning, InfInfoMessage,
		InfMetaData, InfMessageBox, InfPosition, InfTruncated:
		return true
	}
	return false
}

func (c Cmd) String() string {
	switch c {
	case CmdHost:
		return "setHost"
	case CmdConnect:
		return "openConnection"
	case CmdDisconnect:
		return "closeConnection"
	case CmdWorkerStatus:
		return "workerStatus"
	case CmdNone:
		return "none"
	case CmdGet:
		return "get"
	case CmdPut:
		return "put"
	case CmdStat:
		return "stat"
	case CmdMimetype:
		return "mimetype"
	case CmdListDir:
		return "listDir"
	case CmdMkdir:
		return "mkdir"
	case CmdRename:
		return "rename"
	case CmdCopy:
		return "copy"
	case CmdDel:
		return "del"
	case CmdChmod:
		return "chmod"
	case CmdSpecial:
		return "special"
	case CmdSetModificationTime:
		return "setModificationTime"
	case CmdReparseConfig:
		return "reparseConfiguration"
	case CmdMetaData:
		return "metaData"
	case CmdSymlink:
		return "symlink"
	case CmdSubURL:
		return "subUrl"
	case CmdMessageBoxAnswer:
		return "messageBoxAnswer"
	case CmdResumeAnswer:
		return "resumeAnswer"
	case CmdConfig:
		return "config"
	case CmdMultiGet:
		return "multiGet"
	case CmdSetLinkDest:
		return "setLinkDest"
	case CmdOpen:
		return "open"
	case CmdChown:
		return "chown"
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdSeek:
		return "seek"
	case CmdClose:
		return "close"
	case CmdHostInfo:
		return "hostInfo"
	case CmdFreeSpace:
		return "freeSpace"
	case CmdTruncate:
		return "truncate"
	case CmdPrivilegeAnswer:
		return "privilegeAnswer"
	case CmdData:
		return "data"
	case MsgData:
		return "data(out)"
	case MsgDataReq:
		return "dataReq"
	case MsgError:
		return "error"
	case MsgConnected:
		return "connected"
	case MsgFinished:
		return "finished"
	case MsgStatEntry:
		return "statEntry"
	case MsgListEntries:
		return "listEntries"
	case MsgResume:
		return "resume"
	case MsgWorkerStatus:
		return "workerStatus(report)"
	case MsgNeedSubURLData:
		return "needSubUrlData"
	case MsgCanResume:
		return "canResume"
	case MsgOpened:
		return "opened"
	case MsgWritten:
		return "written"
	case MsgHostInfoReq:
		return "hostInfoReq"
	case MsgPrivilegeRequest:
		return "privilegeRequest"
	case InfTotalSize:
		return "totalSize"
	case InfProcessedSize:
		return "processedSize"
	case InfSpeed:
		return "speed"
	case InfRedirection:
		return "redirection"
	case InfMimeType:
		return "mimeType"
	case InfErrorPage:
		return "errorPage"
	case InfWarning:
		return "warning"
	case InfInfoMessage:
		return "infoMessage"
	case InfMetaData:
		return "metaData(out)"
	case InfMessageBox:
		return "messageBox"
	case InfPosition:
		return "position"
	case InfTruncated:
		return "truncated"
	default:
		return fmt.Sprintf("cmd(%d)", uint32(c))
	}
}
