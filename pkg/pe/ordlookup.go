package pe

import (
	"fmt"
	"strings"
)

// OrdNames maps well-known libraries that are commonly imported by ordinal
// to the names of those ordinals.
var OrdNames = map[string]map[uint16]string{
	"ws2_32.dll":   Ws232OrdNames,
	"wsock32.dll":  Ws232OrdNames,
	"oleaut32.dll": Oleaut32OrdNames,
}

var Ws232OrdNames = map[uint16]string{
	1:   "accept",
	2:   "bind",
	3:   "closesocket",
	4:   "connect",
	5:   "getpeername",
	6:   "getsockname",
	7:   "getsockopt",
	8:   "htonl",
	9:   "htons",
	10:  "ioctlsocket",
	11:  "inet_addr",
	12:  "inet_ntoa",
	13:  "listen",
	14:  "ntohl",
	15:  "ntohs",
	16:  "recv",
	17:  "recvfrom",
	18:  "select",
	19:  "send",
	20:  "sendto",
	21:  "setsockopt",
	22:  "shutdown",
	23:  "socket",
	51:  "gethostbyaddr",
	52:  "gethostbyname",
	53:  "getprotobyname",
	54:  "getprotobynumber",
	55:  "getservbyname",
	56:  "getservbyport",
	57:  "gethostname",
	101: "WSAAsyncSelect",
	102: "WSAAsyncGetHostByAddr",
	103: "WSAAsyncGetHostByName",
	104: "WSAAsyncGetProtoByNumber",
	105: "WSAAsyncGetProtoByName",
	106: "WSAAsyncGetServByPort",
	107: "WSAAsyncGetServByName",
	108: "WSACancelAsyncRequest",
	109: "WSASetBlockingHook",
	110: "WSAUnhookBlockingHook",
	111: "WSAGetLastError",
	112: "WSASetLastError",
	113: "WSACancelBlockingCall",
	114: "WSAIsBlocking",
	115: "WSAStartup",
	116: "WSACleanup",
	151: "__WSAFDIsSet",
	500: "WEP",
}

var Oleaut32OrdNames = map[uint16]string{
	2:   "SysAllocString",
	3:   "SysReAllocString",
	4:   "SysAllocStringLen",
	5:   "SysReAllocStringLen",
	6:   "SysFreeString",
	7:   "SysStringLen",
	8:   "VariantInit",
	9:   "VariantClear",
	10:  "VariantCopy",
	11:  "VariantCopyInd",
	12:  "VariantChangeType",
	15:  "SafeArrayCreate",
	16:  "SafeArrayDestroy",
	17:  "SafeArrayGetDim",
	18:  "SafeArrayGetElemsize",
	19:  "SafeArrayGetUBound",
	20:  "SafeArrayGetLBound",
	21:  "SafeArrayLock",
	22:  "SafeArrayUnlock",
	23:  "SafeArrayAccessData",
	24:  "SafeArrayUnaccessData",
	25:  "SafeArrayGetElement",
	26:  "SafeArrayPutElement",
	27:  "SafeArrayCopy",
	149: "SysStringByteLen",
	150: "SysAllocStringByteLen",
}

// OrdLookup returns the name of ordinal ord exported by libname. When the
// ordinal is unknown it returns "ord<N>" if makeName is set and "" otherwise.
func OrdLookup(libname string, ord uint16, makeName bool) string {
	if names, ok := OrdNames[strings.ToLower(libname)]; ok {
		if name, ok := names[ord]; ok {
			return name
		}
	}
	if makeName {
		return fmt.Sprintf("ord%d", ord)
	}
	return ""
}
