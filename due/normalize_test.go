// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

package due

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
	"numero": "24BR0000000001",
	"chaveDeAcesso": "12345678901234567890123456789012345678901234",
	"dataDeRegistro": "2024-03-01T10:00:00-03:00",
	"situacao": "AVERBADA_SEM_DIVERGENCIA",
	"canal": "VERDE",
	"ruc": "4BR12345678000000000000001",
	"dataDoCCE": "",
	"valorTotalMercadoria": 1500.50,
	"declarante": {
		"numeroDoDocumento": "12345678000190",
		"tipoDoDocumento": "CNPJ",
		"nome": "Exportadora Ltda",
		"estrangeiro": false,
		"nacionalidade": {"codigo": 105, "nome": "Brasil", "nomeResumido": "BR"}
	},
	"moeda": {"codigo": 220},
	"paisImportador": {"codigo": 249},
	"unidadeLocalDeDespacho": {"codigo": "0817800"},
	"eventosDoHistorico": [
		{
			"dataEHoraDoEvento": "2024-03-01T10:00:00-03:00",
			"evento": "Registro",
			"responsavel": "12345678000190",
			"informacoesAdicionais": ""
		}
	],
	"itens": [
		{
			"numero": 1,
			"quantidadeNaUnidadeEstatistica": 1000,
			"pesoLiquidoTotal": 1000,
			"valorDaMercadoriaNaCondicaoDeVenda": 1500.50,
			"descricaoDaMercadoria": "Cafe em graos",
			"ncm": {"codigo": "09011110", "descricao": "Cafe nao torrado", "unidadeMedidaEstatistica": "KG"},
			"exportador": {
				"numeroDoDocumento": "12345678000190",
				"tipoDoDocumento": "CNPJ",
				"nome": "nunca preenchido",
				"estrangeiro": false,
				"nacionalidade": {"codigo": 105, "nome": "Brasil", "nomeResumido": "BR"}
			},
			"codigoCondicaoVenda": {"codigo": "FOB"},
			"exportacaoTemporaria": {"temporaria": false},
			"listaDeEnquadramentos": [
				{"codigo": 80000, "dataRegistro": "2024-03-01T10:00:00-03:00", "descricao": "Exportacao definitiva", "grupo": 1, "tipo": 1}
			],
			"listaPaisDestino": [{"codigo": 249}],
			"tratamentosAdministrativos": [
				{"mensagem": "Anuencia exigida", "impeditivoDeEmbarque": true, "codigoLPCO": "E00001", "situacao": "DEFERIDO", "orgaos": ["MAPA", "DECEX"]}
			],
			"itensDaNotaDeRemessa": [
				{
					"numeroDoItem": 1,
					"cfop": 7101,
					"quantidadeEstatistica": 1000,
					"valorTotalBruto": 1500.50,
					"notaFiscal": {
						"chaveDeAcesso": "12345678901234567890123456789012345678901234",
						"modelo": "55",
						"serie": 1,
						"numeroDoDocumento": 12345,
						"ufDoEmissor": "SP",
						"identificacaoDoEmitente": {"numero": "12345678000190", "cnpj": true, "cpf": false},
						"notaFicalEletronica": true
					},
					"apresentadaParaDespacho": true
				}
			],
			"atributos": [{"codigo": "ATT_001", "valor": "X", "descricao": "atributo"}],
			"calculoTributario": {
				"tratamentosTributarios": [{"codigo": "01", "descricao": "Imune", "tipo": "IMUNIDADE", "tributo": "II"}],
				"quadroDeCalculos": [{"tributo": "II", "baseDeCalculo": 1500.50, "aliquota": 0, "valorDevido": 0, "valorRecolhido": 0, "valorCompensado": 0}]
			}
		}
	],
	"situacoesDaCarga": [{"codigo": 5, "descricao": "Carga entregue", "cargaOperada": true}],
	"solicitacoes": [],
	"declaracaoTributaria": {
		"divergente": false,
		"compensacoes": [{"dataDoRegistro": "2024-03-05T09:00:00-03:00", "numeroDaDeclaracao": "DCOMP123", "valorCompensado": 10.5}],
		"recolhimentos": [],
		"contestacoes": []
	}
}`

func decodeSample(t *testing.T) *Document {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &doc))
	return &doc
}

func TestNormalizeFansOutAllTables(t *testing.T) {
	doc := decodeSample(t)
	acts := []BondedAct{{
		Numero:              "20240001234",
		Tipo:                ActType{Codigo: 1, Descricao: "Suspensao"},
		Item:                ActItem{Numero: "1", NCM: "09011110"},
		Beneficiario:        Beneficiary{CNPJ: "12345678000190"},
		QuantidadeExportada: decimal.NewFromInt(1000),
		ItemDeDUE:           ActDueItem{Numero: "1"},
	}}
	reqs := []FiscalRequirement{{
		Numero: "EX-1", Tipo: "MULTA", Status: "ABERTA",
		DataCriacao: "2024-03-10T08:00:00-03:00",
	}}

	rs, err := Normalize(doc, acts, nil, reqs)
	require.NoError(t, err)

	require.Equal(t, "24BR0000000001", rs.Principal.Numero)
	require.NotNil(t, rs.Principal.DataDeRegistro)
	require.Equal(t, "2024-03-01T10:00:00-03:00", *rs.Principal.DataDeRegistro)
	// Absent upstream date becomes NULL, not empty string.
	require.Nil(t, rs.Principal.DataDoCCE)
	require.True(t, rs.Principal.ValorTotalMercadoria.Equal(decimal.RequireFromString("1500.50")))

	// Every child table is present exactly once, even when empty, so a
	// refresh replaces stale rows.
	require.Len(t, rs.Children, 22)
	seen := make(map[string]int)
	for _, b := range rs.Children {
		seen[b.Table] = b.Len
	}
	require.Equal(t, 1, seen[TableEvents])
	require.Equal(t, 1, seen[TableItems])
	require.Equal(t, 1, seen[TableItemFrameworks])
	require.Equal(t, 1, seen[TableItemDestinations])
	require.Equal(t, 1, seen[TableItemAdminTreatments])
	require.Equal(t, 2, seen[TableItemAdminAgencies])
	require.Equal(t, 1, seen[TableItemRemittanceNotes])
	require.Equal(t, 0, seen[TableItemExportNote])
	require.Equal(t, 1, seen[TableItemAttributes])
	require.Equal(t, 1, seen[TableItemTaxTreatments])
	require.Equal(t, 1, seen[TableItemTaxBrackets])
	require.Equal(t, 1, seen[TableCargoSituations])
	require.Equal(t, 0, seen[TableRequests])
	require.Equal(t, 1, seen[TableTaxCompensations])
	require.Equal(t, 0, seen[TableTaxCollections])
	require.Equal(t, 1, seen[TableSuspensionActs])
	require.Equal(t, 0, seen[TableExemptionActs])
	require.Equal(t, 1, seen[TableFiscalRequirements])

	require.Equal(t, 1+1+1+1+1+1+2+1+1+1+1+1+1+1+1, rs.TotalRows())
}

func TestNormalizeItemAndTreatmentIdentifiers(t *testing.T) {
	rs, err := Normalize(decodeSample(t), nil, nil, nil)
	require.NoError(t, err)

	items := childRows[ItemRow](t, rs, TableItems)
	require.Equal(t, "24BR0000000001_1", items[0].ID)

	treatments := childRows[ItemAdminTreatmentRow](t, rs, TableItemAdminTreatments)
	require.Equal(t, "24BR0000000001_1_0", treatments[0].ID)

	agencies := childRows[ItemAdminAgencyRow](t, rs, TableItemAdminAgencies)
	require.Equal(t, "24BR0000000001_1_0", agencies[0].TratamentoAdministrativoID)
	require.Equal(t, []string{"MAPA", "DECEX"}, []string{agencies[0].Orgao, agencies[1].Orgao})
}

func TestNormalizeDropsExporterName(t *testing.T) {
	rs, err := Normalize(decodeSample(t), nil, nil, nil)
	require.NoError(t, err)

	items := childRows[ItemRow](t, rs, TableItems)
	require.Equal(t, "12345678000190", items[0].ExportadorNumeroDoDocumento)
	// ItemRow deliberately has no exporter-name column; the wire value in
	// the sample must not surface anywhere else either.
	require.NotContains(t, items[0].DescricaoDaMercadoria, "nunca preenchido")
}

func TestNormalizePreservesWireOffsets(t *testing.T) {
	rs, err := Normalize(decodeSample(t), nil, nil, nil)
	require.NoError(t, err)

	events := childRows[EventRow](t, rs, TableEvents)
	require.NotNil(t, events[0].DataEHoraDoEvento)
	require.Equal(t, "2024-03-01T10:00:00-03:00", *events[0].DataEHoraDoEvento)
}

func TestNormalizeIsPure(t *testing.T) {
	doc := decodeSample(t)
	first, err := Normalize(doc, nil, nil, nil)
	require.NoError(t, err)
	second, err := Normalize(doc, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNormalizeRejectsMissingNumber(t *testing.T) {
	_, err := Normalize(&Document{}, nil, nil, nil)
	var ne *NormalizeError
	require.ErrorAs(t, err, &ne)

	_, err = Normalize(nil, nil, nil, nil)
	require.ErrorAs(t, err, &ne)
}

func childRows[T any](t *testing.T, rs *RowSet, table string) []T {
	t.Helper()
	for _, b := range rs.Children {
		if b.Table == table {
			rows, ok := b.Rows.([]T)
			require.True(t, ok, "unexpected row type for %s", table)
			return rows
		}
	}
	t.Fatalf("no batch for table %s", table)
	return nil
}
