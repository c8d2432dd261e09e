package vm

// JVM opcodes executed by the interpreter (JVMS chapter 6).
const (
	opNop         = 0x00
	opAconstNull  = 0x01
	opIconstM1    = 0x02
	opIconst0     = 0x03
	opIconst1     = 0x04
	opIconst2     = 0x05
	opIconst3     = 0x06
	opIconst4     = 0x07
	opIconst5     = 0x08
	opLconst0     = 0x09
	opLconst1     = 0x0A
	opFconst0     = 0x0B
	opFconst1     = 0x0C
	opFconst2     = 0x0D
	opDconst0     = 0x0E
	opDconst1     = 0x0F
	opBipush      = 0x10
	opSipush      = 0x11
	opLdc         = 0x12
	opLdcW        = 0x13
	opLdc2W       = 0x14
	opIload       = 0x15
	opLload       = 0x16
	opFload       = 0x17
	opDload       = 0x18
	opAload       = 0x19
	opIload0      = 0x1A
	opIload1      = 0x1B
	opIload2      = 0x1C
	opIload3      = 0x1D
	opLload0      = 0x1E
	opLload1      = 0x1F
	opLload2      = 0x20
	opLload3      = 0x21
	opFload0      = 0x22
	opFload1      = 0x23
	opFload2      = 0x24
	opFload3      = 0x25
	opDload0      = 0x26
	opDload1      = 0x27
	opDload2      = 0x28
	opDload3      = 0x29
	opAload0      = 0x2A
	opAload1      = 0x2B
	opAload2      = 0x2C
	opAload3      = 0x2D
	opIaload      = 0x2E
	opLaload      = 0x2F
	opFaload      = 0x30
	opDaload      = 0x31
	opAaload      = 0x32
	opBaload      = 0x33
	opCaload      = 0x34
	opSaload      = 0x35
	opIstore      = 0x36
	opLstore      = 0x37
	opFstore      = 0x38
	opDstore      = 0x39
	opAstore      = 0x3A
	opIstore0     = 0x3B
	opIstore1     = 0x3C
	opIstore2     = 0x3D
	opIstore3     = 0x3E
	opLstore0     = 0x3F
	opLstore1     = 0x40
	opLstore2     = 0x41
	opLstore3     = 0x42
	opFstore0     = 0x43
	opFstore1     = 0x44
	opFstore2     = 0x45
	opFstore3     = 0x46
	opDstore0     = 0x47
	opDstore1     = 0x48
	opDstore2     = 0x49
	opDstore3     = 0x4A
	opAstore0     = 0x4B
	opAstore1     = 0x4C
	opAstore2     = 0x4D
	opAstore3     = 0x4E
	opIastore     = 0x4F
	opLastore     = 0x50
	opFastore     = 0x51
	opDastore     = 0x52
	opAastore     = 0x53
	opBastore     = 0x54
	opCastore     = 0x55
	opSastore     = 0x56
	opPop         = 0x57
	opPop2        = 0x58
	opDup         = 0x59
	opDupX1       = 0x5A
	opDupX2       = 0x5B
	opDup2        = 0x5C
	opDup2X1      = 0x5D
	opDup2X2      = 0x5E
	opSwap        = 0x5F
	opIadd        = 0x60
	opLadd        = 0x61
	opFadd        = 0x62
	opDadd        = 0x63
	opIsub        = 0x64
	opLsub        = 0x65
	opFsub        = 0x66
	opDsub        = 0x67
	opImul        = 0x68
	opLmul        = 0x69
	opFmul        = 0x6A
	opDmul        = 0x6B
	opIdiv        = 0x6C
	opLdiv        = 0x6D
	opFdiv        = 0x6E
	opDdiv        = 0x6F
	opIrem        = 0x70
	opLrem        = 0x71
	opFrem        = 0x72
	opDrem        = 0x73
	opIneg        = 0x74
	opLneg        = 0x75
	opFneg        = 0x76
	opDneg        = 0x77
	opIshl        = 0x78
	opLshl        = 0x79
	opIshr        = 0x7A
	opLshr        = 0x7B
	opIushr       = 0x7C
	opLushr       = 0x7D
	opIand        = 0x7E
	opLand        = 0x7F
	opIor         = 0x80
	opLor         = 0x81
	opIxor        = 0x82
	opLxor        = 0x83
	opIinc        = 0x84
	opI2l         = 0x85
	opI2f         = 0x86
	opI2d         = 0x87
	opL2i         = 0x88
	opL2f         = 0x89
	opL2d         = 0x8A
	opF2i         = 0x8B
	opF2l         = 0x8C
	opF2d         = 0x8D
	opD2i         = 0x8E
	opD2l         = 0x8F
	opD2f         = 0x90
	opI2b         = 0x91
	opI2c         = 0x92
	opI2s         = 0x93
	opLcmp        = 0x94
	opFcmpl       = 0x95
	opFcmpg       = 0x96
	opDcmpl      = 0x97
	opDcmpg      = 0x98
	opIfeq        = 0x99
	opIfne        = 0x9A
	opIflt        = 0x9B
	opIfge        = 0x9C
	opIfgt        = 0x9D
	opIfle        = 0x9E
	opIfIcmpeq    = 0x9F
	opIfIcmpne    = 0xA0
	opIfIcmplt    = 0xA1
	opIfIcmpge    = 0xA2
	opIfIcmpgt    = 0xA3
	opIfIcmple    = 0xA4
	opIfAcmpeq    = 0xA5
	opIfAcmpne    = 0xA6
	opGoto        = 0xA7
	opJsr         = 0xA8
	opRet         = 0xA9
	opTableswitch = 0xAA
	opLookupswitch = 0xAB
	opIreturn     = 0xAC
	opLreturn     = 0xAD
	opFreturn     = 0xAE
	opDreturn     = 0xAF
	opAreturn     = 0xB0
	opReturn      = 0xB1
	opGetstatic   = 0xB2
	opPutstatic   = 0xB3
	opGetfield    = 0xB4
	opPutfield    = 0xB5
	opInvokevirtual   = 0xB6
	opInvokespecial   = 0xB7
	opInvokestatic    = 0xB8
	opInvokeinterface = 0xB9
	opNew         = 0xBB
	opNewarray    = 0xBC
	opAnewarray   = 0xBD
	opArraylength = 0xBE
	opAthrow      = 0xBF
	opCheckcast   = 0xC0
	opInstanceof  = 0xC1
	opMonitorenter = 0xC2
	opMonitorexit  = 0xC3
	opWide        = 0xC4
	opMultianewarray = 0xC5
	opIfnull      = 0xC6
	opIfnonnull   = 0xC7
	opGotoW       = 0xC8
)
