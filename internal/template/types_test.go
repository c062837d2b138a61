package template

import "testing"

func TestMapType(t *testing.T) {
	tests := []struct {
		token  string
		kind   Kind
		size   int
		prefix int
	}{
		{"U8", KindU8, 1, 0},
		{"S8", KindS8, 1, 0},
		{"U16", KindU16, 2, 0},
		{"S16", KindS16, 2, 0},
		{"U32", KindU32, 4, 0},
		{"S32", KindS32, 4, 0},
		{"F32", KindF32, 4, 0},
		{"IPADDR", KindIPAddr, 4, 0},
		{"IPPORT", KindIPPort, 4, 0},
		{"U64", KindU64, 8, 0},
		{"S64", KindS64, 8, 0},
		{"F64", KindF64, 8, 0},
		{"LLUUID", KindUUID, 16, 0},
		{"BOOL", KindBool, 1, 0},
		{"LLVector3", KindVector3, 12, 0},
		{"LLVector4", KindVector4, 16, 0},
		{"LLQuaternion", KindQuaternion, 12, 0},
		{"Variable 1", KindVariable1, 0, 1},
		{"Variable 2", KindVariable2, 0, 2},
		{"Variable  2", KindVariable2, 0, 2},
		{"Variable 4", KindBytes, 0, 0},
		{"Fixed 32", KindBytes, 0, 0},
		{"LLVector3d", KindBytes, 0, 0},
		{"", KindBytes, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got := MapType(tt.token)
			if got.Kind != tt.kind || got.Size != tt.size || got.PrefixSize != tt.prefix {
				t.Fatalf("MapType(%q) = %+v, want kind %d size %d prefix %d",
					tt.token, got, tt.kind, tt.size, tt.prefix)
			}
			if got.GoType == "" {
				t.Fatal("missing Go type")
			}
		})
	}
}
