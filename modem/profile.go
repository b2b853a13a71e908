package modem

import (
	"time"

	"i4.energy/across/cellmodem/at"
)

// Profile is the hardware-family specific data a driver runs on. Variants
// differ only in their profile; behaviour is shared by Modem.
type Profile struct {
	Name string
	// USBIDs identify the modem's serial interface during port detection.
	USBIDs          []USBID
	DefaultTimeout  time.Duration
	DefaultBaudRate int
	Grammar         at.Grammar
	// Init runs after the "AT" probe on every Connect.
	Init []at.Command
	// Registration raises the network registration report level. Each
	// command is issued independently of the others' outcome.
	Registration []at.Command
	// Identity reads the SIM ICCID.
	Identity at.Command
	// Sockets is nil when the modem has no AT socket commands.
	Sockets *SocketVocabulary
}

var registrationURCs = []string{at.Creg + ":", at.Cgreg + ":", at.Cereg + ":"}

// E303Profile describes the Huawei E303 USB dongle.
func E303Profile() Profile {
	return Profile{
		Name:            "E303",
		USBIDs:          []USBID{{VendorID: "12d1", ProductID: "1001"}},
		DefaultTimeout:  200 * time.Second,
		DefaultBaudRate: 9600,
		Grammar: at.DefaultGrammar.Extend(at.Grammar{
			URCPrefixes: append([]string{
				"^RSSI:", "^BOOT:", "^MODE:", "^DSFLOWRPT:", "^SRVST:", "^SIMST:",
			}, registrationURCs...),
		}),
		Init: []at.Command{at.Cmd(at.CmdEchoOff)},
		Registration: []at.Command{
			at.Set(at.Creg, 2),
			at.Set(at.Cgreg, 2),
		},
		Identity: at.Query("^ICCID"),
	}
}

// BG96Profile describes the Quectel BG96 LTE Cat M1/NB1 module.
func BG96Profile() Profile {
	return Profile{
		Name:            "BG96",
		USBIDs:          []USBID{{VendorID: "2c7c", ProductID: "0296"}},
		DefaultTimeout:  time.Second,
		DefaultBaudRate: 115200,
		Grammar: at.DefaultGrammar.Extend(at.Grammar{
			URCPrefixes: append([]string{
				"+QIURC:", "+QIOPEN:", "+QIND:", "RDY", "POWERED DOWN",
			}, registrationURCs...),
			FinalOK:    []string{"SEND OK"},
			FinalError: []string{"SEND FAIL"},
		}),
		Init: []at.Command{
			at.Cmd(at.CmdEchoOff),
			at.Set(at.CmdVerboseErrors, 1),
		},
		Registration: []at.Command{
			at.Set(at.Creg, 2),
			at.Set(at.Cgreg, 2),
			at.Set(at.Cereg, 2),
		},
		Identity: at.Command{Name: "+QCCID", ExpectsPayload: true},
		Sockets: &SocketVocabulary{
			MaxSocketID:     11,
			ContextID:       1,
			ContextActivate: "+QIACT",
			ContextTimeout:  30 * time.Second,
			Open:            "+QIOPEN",
			OpenTimeout:     30 * time.Second,
			Close:           "+QICLOSE",
			CloseTimeout:    10 * time.Second,
			Send:            "+QISEND",
			Receive:         "+QIRD",
			DataTimeout:     10 * time.Second,
		},
	}
}
